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
)

type MediaType uint8

const (
	UnknownMediaType MediaType = iota
	AudioMediaType
	VideoMediaType
	OtherMediaType
)

func (mt MediaType) String() string {
	switch mt {
	case AudioMediaType:
		return "audio"
	case VideoMediaType:
		return "video"
	case OtherMediaType:
		return "other"
	}
	return "unknown"
}

// Media is the top-level descriptor of one ingested asset. It is produced by
// the ingest side, stored as a side-car blob next to the asset bytes and
// never mutated after load. Struct fields are serialized positionally; see
// metadata.go.
type Media struct {
	_msgpack struct{} `msgpack:",as_array"`

	Tracks []Track
}

// Track returns the track with the given 1-based number as used in manifests
// and track requests.
func (m *Media) Track(number uint32) (*Track, error) {
	if number < 1 || int(number) > len(m.Tracks) {
		return nil, fmt.Errorf("media: no track %d (have %d tracks)", number, len(m.Tracks))
	}
	return &m.Tracks[number-1], nil
}

// Track is one elementary stream of an asset.
type Track struct {
	_msgpack struct{} `msgpack:",as_array"`

	ID     uint32
	Number uint32 // 1-based, stable index used in manifests

	MediaType MediaType
	Codec     string // RFC 6381 codec parameter, e.g. "avc1.640028", "mp4a.40.2"
	MimeType  string
	Bandwidth uint64 // bits/s

	Timescale      uint32 // ticks per second for DTS/PTS
	MediaTimescale uint32 // timescale advertised in manifests; normally equal
	Duration       uint64 // in Timescale ticks

	Audio *AudioInfo
	Video *VideoInfo

	// CodecPrivate carries the decoder configuration as stored in the sample
	// entry: the AVCDecoderConfigurationRecord (avcC), the
	// HEVCDecoderConfigurationRecord (hvcC) or the AudioSpecificConfig.
	CodecPrivate []byte

	Samples []Sample
}

type AudioInfo struct {
	_msgpack struct{} `msgpack:",as_array"`

	SampleRate uint32
	Channels   uint32
}

type VideoInfo struct {
	_msgpack struct{} `msgpack:",as_array"`

	Width    uint32
	Height   uint32
	FPSNum   uint32
	FPSDenum uint32
	SARW     uint32
	SARH     uint32
}

// Sample is one coded access unit.
type Sample struct {
	_msgpack struct{} `msgpack:",as_array"`

	DTS       uint64 // decode timestamp in track timescale
	CTSOffset int32  // pts = dts + cts offset
	Duration  uint32

	Offset uint64 // byte range within the stored asset
	Length uint32

	Flags uint32
}

const (
	// SampleFlagRAP marks a random-access point (sync sample).
	SampleFlagRAP uint32 = 1 << 0
)

func (s *Sample) IsRAP() bool {
	return s.Flags&SampleFlagRAP != 0
}

func (s *Sample) PTS() uint64 {
	return uint64(int64(s.DTS) + int64(s.CTSOffset))
}

// DurationSeconds returns the track duration in seconds.
func (t *Track) DurationSeconds() float64 {
	if t.Timescale == 0 {
		return 0
	}
	return float64(t.Duration) / float64(t.Timescale)
}

// DurationMSec returns the track duration in milliseconds, rounded down.
func (t *Track) DurationMSec() uint64 {
	if t.Timescale == 0 {
		return 0
	}
	return t.Duration * 1000 / uint64(t.Timescale)
}

// Resolution returns "<width>x<height>" for video tracks.
func (t *Track) Resolution() string {
	if t.Video == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", t.Video.Width, t.Video.Height)
}

// SAR returns the sample aspect ratio as "<w>:<h>" for video tracks.
func (t *Track) SAR() string {
	if t.Video == nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", t.Video.SARW, t.Video.SARH)
}

// FrameRate returns the frame rate reduced by the greatest common divisor,
// as "<num>/<denum>" when the reduced denominator is larger than one and as
// the bare numerator otherwise.
func (v *VideoInfo) FrameRate() string {
	num, denum := v.FPSNum, v.FPSDenum
	if denum == 0 {
		return fmt.Sprintf("%d", num)
	}
	if d := gcd(num, denum); d > 1 {
		num /= d
		denum /= d
	}
	if denum > 1 {
		return fmt.Sprintf("%d/%d", num, denum)
	}
	return fmt.Sprintf("%d", num)
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
