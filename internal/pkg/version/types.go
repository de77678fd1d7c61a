/*
Copyright 2022-2024 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package version

import (
	"fmt"
	"io"
)

// Info holds version and build information. The fields are largely the same
// as in the `k8s.io/kubernetes/pkg/version` package of the Kubernetes
// project.
type Info struct {
	Name         string
	Version      string
	GitCommit    string
	GitTreeState string // "clean" or "dirty"
	BuildDate    string
	GoVersion    string
	Compiler     string
	Platform     string
}

// String returns a formated version string.
func (i Info) String() string {
	return i.Version
}

// Write the full version
func (i Info) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w, `%s:
  Version:        %s
  Git Commit:     %s
  Git Tree State: %s
  Build Date:     %s
  Go Version:     %s
  Compiler:       %s
  Platform:       %s
`, i.Name, i.Version, i.GitCommit, i.GitTreeState, i.BuildDate, i.GoVersion, i.Compiler, i.Platform)
	return err
}
