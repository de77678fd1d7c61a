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

import (
	"time"
)

type Function struct {
	Name string `mapstructure:"name"`

	Expire    *ExpireFunction    `mapstructure:"expire,omitempty"`
	Notify    *NotifyFunction    `mapstructure:"notify,omitempty"`
	Publish   *PublishFunction   `mapstructure:"publish,omitempty"`
	Replicate *ReplicateFunction `mapstructure:"replicate,omitempty"`
}

// PublishFunction writes rendered manifests of ready presentations into a
// volume so a plain file origin can serve them.
type PublishFunction struct {
	VolumeRef Reference `mapstructure:"volumeRef"`
}

// ReplicateFunction copies committed files into another volume.
type ReplicateFunction struct {
	VolumeRef Reference `mapstructure:"volumeRef"`
}

// ExpireFunction deletes files matching the given patterns once they exceed
// the configured age.
type ExpireFunction struct {
	Schedule   string        `mapstructure:"schedule"`
	VolumeRefs []Reference   `mapstructure:"volumeRefs"`
	Files      []string      `mapstructure:"files,omitempty"`
	Age        time.Duration `mapstructure:"age,omitempty"`
}

// NotifyFunction posts CloudEvents about asset and presentation lifecycle to
// an external sink.
type NotifyFunction struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout,omitempty"`
}
