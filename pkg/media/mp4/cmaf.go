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
)

// CheckMoovCMAF verifies moov has the shape of a CMAF header: one fragmented
// track.
// TODO: This only implements some quick checks. Should we further check for CMAF compliance or trust the source?
func CheckMoovCMAF(moov *mp4ff.MoovBox) error {
	if moov.Mvhd == nil || moov.Mvex == nil || len(moov.Traks) != 1 {
		return ErrNotACMAFHeader
	}
	return nil
}

// CheckMoofCMAF verifies moof holds exactly one track fragment next to its
// mfhd.
func CheckMoofCMAF(moof *mp4ff.MoofBox) error {
	if len(moof.Children) != 2 || moof.Mfhd == nil || len(moof.Trafs) != 1 {
		return ErrNotACMAFChunk
	}
	return CheckTrafCMAF(moof.Traf)
}

// CheckTrafCMAF verifies the track fragment carries the boxes needed for
// timing and sample layout.
func CheckTrafCMAF(traf *mp4ff.TrafBox) error {
	if traf.Tfhd == nil || traf.Tfdt == nil || traf.Trun == nil {
		return ErrNotACMAFChunk
	}
	return nil
}
