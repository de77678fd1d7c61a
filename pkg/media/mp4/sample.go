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
	mp4ff "github.com/Eyevinn/mp4ff/mp4"

	"github.com/nagare-media/vod/pkg/media"
)

// FragmentSamples resolves the sample table of a CMAF chunk against the tfhd
// and trex defaults. Sample offsets start at dataOffset and advance in mdat
// payload order. The second return value is the expected mdat payload size.
func FragmentSamples(moof *mp4ff.MoofBox, trex *mp4ff.TrexBox, dataOffset uint64) ([]media.Sample, uint64, error) {
	traf := moof.Traf
	if traf == nil || traf.Tfhd == nil || traf.Tfdt == nil || traf.Trun == nil {
		return nil, 0, ErrNotACMAFChunk
	}
	tfhd := traf.Tfhd
	trun := traf.Trun

	dts := traf.Tfdt.BaseMediaDecodeTime()
	offset := dataOffset

	samples := make([]media.Sample, 0, len(trun.Samples))
	for i, s := range trun.Samples {
		dur := s.Dur
		if !trun.HasSampleDuration() {
			if tfhd.HasDefaultSampleDuration() {
				dur = tfhd.DefaultSampleDuration
			} else if trex != nil {
				dur = trex.DefaultSampleDuration
			}
		}

		size := s.Size
		if !trun.HasSampleSize() {
			if tfhd.HasDefaultSampleSize() {
				size = tfhd.DefaultSampleSize
			} else if trex != nil {
				size = trex.DefaultSampleSize
			}
		}

		flags, err := sampleFlags(trun, tfhd, trex, i, s.Flags)
		if err != nil {
			return nil, 0, err
		}

		var cto int32
		if trun.HasSampleCompositionTimeOffset() {
			cto = s.CompositionTimeOffset
		}

		var mflags uint32
		if mp4ff.IsSyncSampleFlags(flags) {
			mflags |= media.SampleFlagRAP
		}

		samples = append(samples, media.Sample{
			DTS:       dts,
			CTSOffset: cto,
			Duration:  dur,
			Offset:    offset,
			Length:    size,
			Flags:     mflags,
		})

		dts += uint64(dur)
		offset += uint64(size)
	}

	return samples, offset - dataOffset, nil
}

// sampleFlags resolves the ISO sample flags of sample i following the trun,
// tfhd and trex precedence.
func sampleFlags(trun *mp4ff.TrunBox, tfhd *mp4ff.TfhdBox, trex *mp4ff.TrexBox, i int, flags uint32) (uint32, error) {
	if trun.HasSampleFlags() {
		return flags, nil
	}
	if i == 0 {
		if f, ok := trun.FirstSampleFlags(); ok {
			return f, nil
		}
	}
	if tfhd.HasDefaultSampleFlags() {
		return tfhd.DefaultSampleFlags, nil
	}
	if trex != nil {
		return trex.DefaultSampleFlags, nil
	}
	return 0, ErrNotACMAFChunk
}

// FirstSampleFlags returns the ISO sample flags of the first sample of moof.
func FirstSampleFlags(moof *mp4ff.MoofBox, trex *mp4ff.TrexBox) (uint32, error) {
	if traf := moof.Traf; traf != nil && traf.Trun != nil && traf.Tfhd != nil {
		var f uint32
		if len(traf.Trun.Samples) > 0 {
			f = traf.Trun.Samples[0].Flags
		}
		return sampleFlags(traf.Trun, traf.Tfhd, trex, 0, f)
	}
	return 0, ErrNotACMAFChunk
}
