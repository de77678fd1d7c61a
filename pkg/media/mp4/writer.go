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
	"errors"
	"fmt"
	"io"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/nagare-media/vod/pkg/media"
)

var (
	ErrCodecUnsupported = errors.New("unsupported codec")
	ErrEmptySampleRange = errors.New("empty sample range")
	ErrSampleDataShort  = errors.New("sample data does not cover range")
)

// ISO/IEC 14496-12 sample flags: sample_depends_on=2 for sync samples,
// sample_depends_on=1 plus sample_is_non_sync_sample for all others.
const (
	syncSampleISOFlags    uint32 = 0x02000000
	nonSyncSampleISOFlags uint32 = 0x01010000
)

const (
	ftypMajorBrand   = "isom"
	ftypMinorVersion = 512
)

func ftypBrands() []string { return []string{"isom", "iso5", "dash"} }

// SegmentOptions select the sample range and fragmentation of one media
// segment.
type SegmentOptions struct {
	// PosStart and PosEnd delimit the samples of the segment, both inclusive.
	PosStart int
	PosEnd   int

	// DTSStartAbsolute is the base media decode time of the segment's first
	// fragment. Further fragments advance by the DTS progress within the
	// sample range.
	DTSStartAbsolute uint64

	// FragmentDuration is the target fragment duration in track timescale
	// ticks. Zero or any value of at least one second produces a single
	// fragment covering the whole range.
	FragmentDuration uint64

	// SequenceNumber seeds the mfhd sequence numbers.
	SequenceNumber uint32

	// SampleData holds the coded bytes of the sample range as reported by
	// Track.ByteRange for [PosStart, PosEnd].
	SampleData []byte
}

// SegmentWriter produces CMAF style initialization and media segments for
// one track.
type SegmentWriter struct {
	track   *media.Track
	trackID uint32
}

// NewSegmentWriter returns a writer for tr or ErrCodecUnsupported.
func NewSegmentWriter(tr *media.Track) (*SegmentWriter, error) {
	if !SupportedCodec(tr.Codec) {
		return nil, fmt.Errorf("%w: %s", ErrCodecUnsupported, tr.Codec)
	}
	id := tr.ID
	if id == 0 {
		id = 1
	}
	return &SegmentWriter{track: tr, trackID: id}, nil
}

// WriteInit writes the initialization segment: an ftyp followed by a moov
// with a single trak and no sample data.
func (sw *SegmentWriter) WriteInit(w io.Writer) error {
	init, err := sw.buildInit()
	if err != nil {
		return err
	}

	ftyp := mp4ff.NewFtyp(ftypMajorBrand, ftypMinorVersion, ftypBrands())
	if err := ftyp.Encode(w); err != nil {
		return err
	}
	return init.Moov.Encode(w)
}

func (sw *SegmentWriter) buildInit() (*mp4ff.InitSegment, error) {
	tr := sw.track

	var mediaType string
	switch tr.MediaType {
	case media.AudioMediaType:
		mediaType = "audio"
	case media.VideoMediaType:
		mediaType = "video"
	default:
		return nil, fmt.Errorf("%w: media type %s", ErrCodecUnsupported, tr.MediaType)
	}

	init := mp4ff.CreateEmptyInit()
	init.AddEmptyTrack(tr.Timescale, mediaType, "und")

	trak := init.Moov.Trak
	trak.Tkhd.TrackID = sw.trackID
	init.Moov.Mvex.Trex.TrackID = sw.trackID
	init.Moov.Mvhd.NextTrackID = sw.trackID + 1

	if tr.Video != nil {
		trak.Tkhd.Width = mp4ff.Fixed32(tr.Video.Width << 16)
		trak.Tkhd.Height = mp4ff.Fixed32(tr.Video.Height << 16)
	}

	entry, err := sampleEntryBox(tr)
	if err != nil {
		return nil, err
	}
	trak.Mdia.Minf.Stbl.Stsd.AddChild(entry)

	return init, nil
}

// WriteSegment writes the media segment covering the selected sample range
// as one or more moof/mdat fragments.
func (sw *SegmentWriter) WriteSegment(w io.Writer, opts SegmentOptions) error {
	tr := sw.track

	if opts.PosStart < 0 || opts.PosEnd < opts.PosStart || opts.PosEnd >= len(tr.Samples) {
		return fmt.Errorf("%w: [%d, %d] of %d samples", ErrEmptySampleRange, opts.PosStart, opts.PosEnd, len(tr.Samples))
	}

	base := tr.Samples[opts.PosStart]
	last := tr.Samples[opts.PosEnd]
	if need := last.Offset + uint64(last.Length) - base.Offset; uint64(len(opts.SampleData)) < need {
		return fmt.Errorf("%w: have %d bytes, range covers %d", ErrSampleDataShort, len(opts.SampleData), need)
	}

	target := opts.FragmentDuration
	if target >= uint64(tr.Timescale) {
		target = 0
	}

	fragNr := uint32(0)
	frag, err := mp4ff.CreateFragment(opts.SequenceNumber, sw.trackID)
	if err != nil {
		return err
	}

	var fragDur uint64
	for pos := opts.PosStart; pos <= opts.PosEnd; pos++ {
		s := &tr.Samples[pos]

		if target > 0 && fragDur >= target {
			if err := encodeFragment(w, frag); err != nil {
				return err
			}
			fragNr++
			frag, err = mp4ff.CreateFragment(opts.SequenceNumber+fragNr, sw.trackID)
			if err != nil {
				return err
			}
			fragDur = 0
		}

		if s.Offset < base.Offset {
			return fmt.Errorf("%w: sample %d before range start", ErrSampleDataShort, pos)
		}
		start := s.Offset - base.Offset
		end := start + uint64(s.Length)
		if end > uint64(len(opts.SampleData)) {
			return fmt.Errorf("%w: sample %d ends at %d of %d", ErrSampleDataShort, pos, end, len(opts.SampleData))
		}

		flags := nonSyncSampleISOFlags
		if s.IsRAP() {
			flags = syncSampleISOFlags
		}

		frag.AddFullSample(mp4ff.FullSample{
			Sample: mp4ff.Sample{
				Flags:                 flags,
				Dur:                   s.Duration,
				Size:                  s.Length,
				CompositionTimeOffset: s.CTSOffset,
			},
			DecodeTime: opts.DTSStartAbsolute + (s.DTS - base.DTS),
			Data:       opts.SampleData[start:end],
		})
		fragDur += uint64(s.Duration)
	}

	return encodeFragment(w, frag)
}

func encodeFragment(w io.Writer, frag *mp4ff.Fragment) error {
	traf := frag.Moof.Traf
	if err := traf.OptimizeTfhdTrun(); err != nil {
		return err
	}
	// always use 64 bit base media decode times
	traf.Tfdt.Version = 1
	return frag.Encode(w)
}
