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

package media

import "errors"

var (
	// ErrNotFound indicates a sample, track or asset outside the known range.
	ErrNotFound = errors.New("media: not found")

	// ErrMalformedMetadata indicates a side-car descriptor that could not be
	// decoded or violates a structural invariant.
	ErrMalformedMetadata = errors.New("media: malformed metadata")

	// ErrIncompatibleTracks indicates tracks that cannot be combined into one
	// representation.
	ErrIncompatibleTracks = errors.New("media: incompatible tracks")
)
