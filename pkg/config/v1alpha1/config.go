/*
Copyright 2022-2025 The nagare media authors

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

package v1alpha1

const (
	APIVersion = "vod.nagare.media/v1alpha1"
)

type Config struct {
	APIVersion string `mapstructure:"apiVersion,omitempty"`

	Volumes []Volume `mapstructure:"volumes,omitempty"`
	Buckets []Bucket `mapstructure:"buckets,omitempty"`
	Servers []Server `mapstructure:"servers,omitempty"`
}

// Bucket exposes a volume under a stable bucket name. Keys of HTTP requests
// resolve against the referenced volume.
type Bucket struct {
	Name      string    `mapstructure:"name"`
	VolumeRef Reference `mapstructure:"volumeRef"`
}
