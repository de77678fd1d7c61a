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

package event

import (
	"time"

	"github.com/nagare-media/vod/pkg/media"
)

type Type string

const (
	FileStartEvent     Type = "file-start"
	FileCommittedEvent Type = "file-committed"
	FileAbortedEvent   Type = "file-aborted"
	FileDeletedEvent   Type = "file-deleted"

	AssetIngestedEvent Type = "asset-ingested"
	AssetDeletedEvent  Type = "asset-deleted"

	PresentationReadyEvent Type = "presentation-ready"

	SegmentServedEvent Type = "segment-served"
)

type Event interface{}

type GenericEvent struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
}

func newGenericEvent(t Type) GenericEvent {
	return GenericEvent{
		Type: t,
		Time: time.Now(),
	}
}

// FileEvent describes the lifecycle of a single object in a bucket.
type FileEvent struct {
	GenericEvent

	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   uint64 `json:"size,omitempty"`
}

func NewFileEvent(t Type, bucket, key string, size uint64) *FileEvent {
	return &FileEvent{
		GenericEvent: newGenericEvent(t),
		Bucket:       bucket,
		Key:          key,
		Size:         size,
	}
}

// AssetEvent describes an asset together with its side-car metadata. The
// metadata is not part of the JSON representation.
type AssetEvent struct {
	GenericEvent

	Bucket string       `json:"bucket"`
	Key    string       `json:"key"`
	Media  *media.Media `json:"-"`
}

func NewAssetEvent(t Type, bucket, key string, m *media.Media) *AssetEvent {
	return &AssetEvent{
		GenericEvent: newGenericEvent(t),
		Bucket:       bucket,
		Key:          key,
		Media:        m,
	}
}

type PresentationEvent struct {
	GenericEvent

	Presentation string `json:"presentation"`
}

func NewPresentationEvent(t Type, presentation string) *PresentationEvent {
	return &PresentationEvent{
		GenericEvent: newGenericEvent(t),
		Presentation: presentation,
	}
}

type SegmentEvent struct {
	GenericEvent

	Presentation   string `json:"presentation"`
	Representation string `json:"representation"`
	Number         uint64 `json:"number"`
}

func NewSegmentEvent(t Type, presentation, representation string, number uint64) *SegmentEvent {
	return &SegmentEvent{
		GenericEvent:   newGenericEvent(t),
		Presentation:   presentation,
		Representation: representation,
		Number:         number,
	}
}
