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

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// DecodeMetadata reads a MessagePack encoded side-car descriptor and
// validates it. Trailing bytes after the descriptor as well as structural
// violations yield an ErrMalformedMetadata.
func DecodeMetadata(r io.Reader) (*Media, error) {
	dec := msgpack.NewDecoder(r)

	m := &Media{}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMetadata, err)
	}
	if _, err := dec.PeekCode(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing bytes after descriptor", ErrMalformedMetadata)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// EncodeMetadata writes m as a MessagePack side-car descriptor.
func EncodeMetadata(w io.Writer, m *Media) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return msgpack.NewEncoder(w).Encode(m)
}

// Validate checks the structural invariants of a decoded descriptor.
func (m *Media) Validate() error {
	if len(m.Tracks) == 0 {
		return fmt.Errorf("%w: no tracks", ErrMalformedMetadata)
	}

	for i := range m.Tracks {
		t := &m.Tracks[i]

		if t.MediaType > OtherMediaType {
			return fmt.Errorf("%w: track %d: unknown media type %d", ErrMalformedMetadata, i, t.MediaType)
		}
		if t.Timescale == 0 {
			return fmt.Errorf("%w: track %d: timescale is zero", ErrMalformedMetadata, i)
		}
		if t.MediaType == AudioMediaType && t.Audio == nil {
			return fmt.Errorf("%w: track %d: audio track without audio info", ErrMalformedMetadata, i)
		}
		if t.MediaType == VideoMediaType && t.Video == nil {
			return fmt.Errorf("%w: track %d: video track without video info", ErrMalformedMetadata, i)
		}

		var durSum uint64
		for j := range t.Samples {
			if j > 0 {
				if t.Samples[j].DTS < t.Samples[j-1].DTS {
					return fmt.Errorf("%w: track %d: sample %d: DTS decreases", ErrMalformedMetadata, i, j)
				}
				if t.Samples[j].Offset < t.Samples[j-1].Offset {
					return fmt.Errorf("%w: track %d: sample %d: offset decreases", ErrMalformedMetadata, i, j)
				}
			}
			durSum += uint64(t.Samples[j].Duration)
		}
		if durSum > t.Duration {
			return fmt.Errorf("%w: track %d: sample durations exceed track duration", ErrMalformedMetadata, i)
		}
	}
	return nil
}

// ManifestTimescale returns the timescale advertised in manifests. It falls
// back to the sample timescale if no separate media timescale is set.
func (t *Track) ManifestTimescale() uint32 {
	if t.MediaTimescale != 0 {
		return t.MediaTimescale
	}
	return t.Timescale
}
