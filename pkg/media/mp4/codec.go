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

package mp4

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"
	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/nagare-media/vod/pkg/media"
)

// CodecFourCC returns the sample entry FourCC of an RFC 6381 codec string,
// e.g. "avc1" for "avc1.640028".
func CodecFourCC(codec string) string {
	if i := strings.IndexByte(codec, '.'); i >= 0 {
		return codec[:i]
	}
	return codec
}

// SupportedCodec reports whether segments can be produced for codec.
func SupportedCodec(codec string) bool {
	switch CodecFourCC(codec) {
	case Avc1BoxStr, Avc3BoxStr, Hvc1BoxStr, Hev1BoxStr, Mp4aBoxStr:
		return true
	}
	return false
}

// CodecStringAVC builds the RFC 6381 codec string of an AVC track from its
// decoder configuration record.
func CodecStringAVC(entry string, rec avc.DecConfRec) string {
	return fmt.Sprintf("%s.%02X%02X%02X", entry, rec.AVCProfileIndication, rec.ProfileCompatibility, rec.AVCLevelIndication)
}

// CodecStringAAC builds the RFC 6381 codec string of an MPEG-4 audio track.
func CodecStringAAC(objType byte) string {
	return fmt.Sprintf("mp4a.40.%d", objType)
}

// CodecStringHEVC builds the RFC 6381 codec string of an HEVC track from its
// decoder configuration record following ISO/IEC 14496-15 Annex E, e.g.
// "hvc1.1.6.L93.B0" for Main profile level 3.1.
func CodecStringHEVC(entry string, rec hevc.DecConfRec) string {
	var b strings.Builder
	b.WriteString(entry)
	b.WriteByte('.')
	if rec.GeneralProfileSpace > 0 && rec.GeneralProfileSpace <= 3 {
		b.WriteByte('A' + rec.GeneralProfileSpace - 1)
	}
	// general_profile_compatibility_flags are listed in reverse bit order
	fmt.Fprintf(&b, "%d.%X.", rec.GeneralProfileIDC, bits.Reverse32(rec.GeneralProfileCompatibilityFlags))
	if rec.GeneralTierFlag {
		b.WriteByte('H')
	} else {
		b.WriteByte('L')
	}
	fmt.Fprintf(&b, "%d", rec.GeneralLevelIDC)

	// constraint bytes with trailing zero bytes omitted
	constraints := make([]byte, 6)
	for i := 0; i < 6; i++ {
		constraints[i] = byte(rec.GeneralConstraintIndicatorFlags >> (8 * (5 - i)))
	}
	n := 6
	for n > 0 && constraints[n-1] == 0 {
		n--
	}
	for _, c := range constraints[:n] {
		fmt.Fprintf(&b, ".%X", c)
	}

	return b.String()
}

// sampleEntryBox builds the stsd sample entry carrying the decoder
// configuration of tr.
func sampleEntryBox(tr *media.Track) (mp4ff.Box, error) {
	fourCC := CodecFourCC(tr.Codec)

	switch fourCC {
	case Avc1BoxStr, Avc3BoxStr:
		if tr.Video == nil {
			return nil, fmt.Errorf("%w: %s track without video info", ErrCodecUnsupported, fourCC)
		}
		rec, err := avc.DecodeAVCDecConfRec(tr.CodecPrivate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrCodecUnsupported, fourCC, err)
		}
		avcC := &mp4ff.AvcCBox{DecConfRec: rec}
		return mp4ff.CreateVisualSampleEntryBox(fourCC, uint16(tr.Video.Width), uint16(tr.Video.Height), avcC), nil

	case Hvc1BoxStr, Hev1BoxStr:
		if tr.Video == nil {
			return nil, fmt.Errorf("%w: %s track without video info", ErrCodecUnsupported, fourCC)
		}
		rec, err := hevc.DecodeHEVCDecConfRec(tr.CodecPrivate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrCodecUnsupported, fourCC, err)
		}
		hvcC := &mp4ff.HvcCBox{DecConfRec: rec}
		return mp4ff.CreateVisualSampleEntryBox(fourCC, uint16(tr.Video.Width), uint16(tr.Video.Height), hvcC), nil

	case Mp4aBoxStr:
		if tr.Audio == nil {
			return nil, fmt.Errorf("%w: %s track without audio info", ErrCodecUnsupported, fourCC)
		}
		esds := mp4ff.CreateEsdsBox(tr.CodecPrivate)
		return mp4ff.CreateAudioSampleEntryBox(Mp4aBoxStr,
			uint16(tr.Audio.Channels), 16, uint16(tr.Audio.SampleRate), esds), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrCodecUnsupported, tr.Codec)
}
