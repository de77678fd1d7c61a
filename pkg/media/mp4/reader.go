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
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/aac"
	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/mime"
)

const (
	VideHdlrType = "vide"
	SounHdlrType = "soun"
)

// TrackFromMoov extracts the track description of a CMAF header: codec string
// and decoder configuration from the stsd sample entry, timescale from the
// mdhd and dimensions or audio parameters from the sample entry. Duration,
// bandwidth and the sample table are left for the caller to fill from the
// movie fragments.
func TrackFromMoov(moov *mp4ff.MoovBox) (*media.Track, error) {
	if err := CheckMoovCMAF(moov); err != nil {
		return nil, err
	}

	trak := moov.Traks[0]
	if trak.Tkhd == nil ||
		trak.Mdia == nil || trak.Mdia.Mdhd == nil || trak.Mdia.Hdlr == nil ||
		trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return nil, ErrNotACMAFHeader
	}

	tr := &media.Track{
		ID:             trak.Tkhd.TrackID,
		Number:         1,
		Timescale:      trak.Mdia.Mdhd.Timescale,
		MediaTimescale: trak.Mdia.Mdhd.Timescale,
	}

	switch trak.Mdia.Hdlr.HandlerType {
	case VideHdlrType:
		tr.MediaType = media.VideoMediaType
		tr.MimeType = mime.VideoMP4
	case SounHdlrType:
		tr.MediaType = media.AudioMediaType
		tr.MimeType = mime.AudioMP4
	default:
		tr.MediaType = media.OtherMediaType
		tr.MimeType = mime.ApplicationMP4
	}

	stsd := trak.Mdia.Minf.Stbl.Stsd
	switch {
	case stsd.AvcX != nil:
		if err := fillVideoAVC(tr, stsd.AvcX); err != nil {
			return nil, err
		}
	case stsd.HvcX != nil:
		if err := fillVideoHEVC(tr, stsd.HvcX); err != nil {
			return nil, err
		}
	case stsd.Mp4a != nil:
		if err := fillAudioAAC(tr, stsd.Mp4a); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unsupported sample entry", ErrCodecUnsupported)
	}

	return tr, nil
}

func fillVideoAVC(tr *media.Track, e *mp4ff.VisualSampleEntryBox) error {
	if e.AvcC == nil {
		return ErrNotACMAFHeader
	}

	rec := e.AvcC.DecConfRec
	buf := &bytes.Buffer{}
	if err := rec.Encode(buf); err != nil {
		return fmt.Errorf("%w: avcC: %s", ErrNotACMAFHeader, err)
	}

	tr.Codec = CodecStringAVC(e.Type(), rec)
	tr.CodecPrivate = buf.Bytes()
	tr.Video = videoInfo(e)
	return nil
}

func fillVideoHEVC(tr *media.Track, e *mp4ff.VisualSampleEntryBox) error {
	if e.HvcC == nil {
		return ErrNotACMAFHeader
	}

	rec := e.HvcC.DecConfRec
	buf := &bytes.Buffer{}
	if err := rec.Encode(buf); err != nil {
		return fmt.Errorf("%w: hvcC: %s", ErrNotACMAFHeader, err)
	}

	tr.Codec = CodecStringHEVC(e.Type(), rec)
	tr.CodecPrivate = buf.Bytes()
	tr.Video = videoInfo(e)
	return nil
}

func fillAudioAAC(tr *media.Track, e *mp4ff.AudioSampleEntryBox) error {
	if e.Esds == nil ||
		e.Esds.DecConfigDescriptor == nil ||
		e.Esds.DecConfigDescriptor.DecSpecificInfo == nil {
		return ErrNotACMAFHeader
	}

	asc := e.Esds.DecConfigDescriptor.DecSpecificInfo.DecConfig
	cfg, err := aac.DecodeAudioSpecificConfig(bytes.NewReader(asc))
	if err != nil {
		return fmt.Errorf("%w: AudioSpecificConfig: %s", ErrNotACMAFHeader, err)
	}

	tr.Codec = CodecStringAAC(cfg.ObjectType)
	tr.CodecPrivate = asc
	tr.Audio = &media.AudioInfo{
		SampleRate: uint32(e.SampleRate),
		Channels:   uint32(e.ChannelCount),
	}
	// the sample entry carries the rate as 16.16 fixed point; prefer the
	// AudioSpecificConfig for rates beyond 16 bit
	if cfg.SamplingFrequency > 0 {
		tr.Audio.SampleRate = uint32(cfg.SamplingFrequency)
	}
	return nil
}

func videoInfo(e *mp4ff.VisualSampleEntryBox) *media.VideoInfo {
	vi := &media.VideoInfo{
		Width:  uint32(e.Width),
		Height: uint32(e.Height),
		SARW:   1,
		SARH:   1,
	}
	if e.Pasp != nil && e.Pasp.HSpacing > 0 && e.Pasp.VSpacing > 0 {
		vi.SARW = e.Pasp.HSpacing
		vi.SARH = e.Pasp.VSpacing
	}
	return vi
}
