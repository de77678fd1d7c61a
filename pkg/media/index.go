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
	"sort"
)

// SamplePositionForStart returns the position of the sample a segment
// starting at dts begins with: the largest i such that Samples[i].DTS <= dts.
// Runs of equal DTS resolve to the lowest position of the run. ErrNotFound is
// returned if dts lies before the first sample or the track has no samples.
func (t *Track) SamplePositionForStart(dts uint64) (int, error) {
	n := len(t.Samples)
	if n == 0 || dts < t.Samples[0].DTS {
		return 0, ErrNotFound
	}
	i := sort.Search(n, func(i int) bool { return t.Samples[i].DTS > dts })
	// i-1 is the largest position with DTS <= dts; step back to the first
	// sample of an equal-DTS run
	base := i - 1
	first := sort.Search(n, func(j int) bool { return t.Samples[j].DTS >= t.Samples[base].DTS })
	return first, nil
}

// SamplePositionForEnd returns the position of the last sample of a segment
// ending at dts: the largest i such that Samples[i].DTS <= dts, resolving
// runs of equal DTS to the highest position. Queries before the first sample
// or on an empty track clamp to the last position, i.e. len(Samples)-1.
func (t *Track) SamplePositionForEnd(dts uint64) int {
	n := len(t.Samples)
	if n == 0 {
		return -1
	}
	if dts < t.Samples[0].DTS {
		return n - 1
	}
	i := sort.Search(n, func(i int) bool { return t.Samples[i].DTS > dts })
	return i - 1
}

// ByteRange returns the byte range [offset, offset+length) covering the
// samples from posStart to posEnd inclusive. Both positions must be valid.
func (t *Track) ByteRange(posStart, posEnd int) (offset, length uint64) {
	s := t.Samples[posStart]
	e := t.Samples[posEnd]
	offset = s.Offset
	length = e.Offset + uint64(e.Length) - offset
	return offset, length
}
