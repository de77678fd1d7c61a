/*
Copyright 2022 The nagare media authors

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

package mime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, ApplicationVndAppleMPEGURL, Normalize("audio/mpegurl"))
	assert.Equal(t, ApplicationVndAppleMPEGURL, Normalize("application/x-mpegurl"))
	assert.Equal(t, ApplicationVndAppleMPEGURL, Normalize(ApplicationVndAppleMPEGURL))

	// unknown types pass through
	assert.Equal(t, "text/plain", Normalize("text/plain"))
}

func TestNormalizeExt(t *testing.T) {
	// normalization table wins over the extension
	assert.Equal(t, ApplicationVndAppleMPEGURL, NormalizeExt("audio/x-mpegurl", ".mpd"))

	// unknown type falls back to the preferred type of the extension
	assert.Equal(t, ApplicationDASH_XML, NormalizeExt("text/xml", ".mpd"))
	assert.Equal(t, VideoISOSegment, NormalizeExt("", ".m4s"))

	// unknown type and extension pass through
	assert.Equal(t, "text/xml", NormalizeExt("text/xml", ".xml"))
}

func TestTypesExt(t *testing.T) {
	assert.Equal(t, []string{VideoMP4, ApplicationMP4}, TypesExt(".mp4"))
	assert.Nil(t, TypesExt(".xml"))
}

func TestPreferredTypeExt(t *testing.T) {
	assert.Equal(t, VideoISOSegment, PreferredTypeExt(".m4s"))
	assert.Equal(t, ApplicationDASH_XML, PreferredTypeExt(".mpd"))
	assert.Equal(t, ApplicationVndAppleMPEGURL, PreferredTypeExt(".m3u8"))
	assert.Equal(t, VideoMP4, PreferredTypeExt(".mp4"))
	assert.Equal(t, "", PreferredTypeExt(".xml"))
}

func TestMatchExt(t *testing.T) {
	assert.True(t, MatchExt(VideoMP4, ".mp4"))
	assert.True(t, MatchExt(ApplicationMP4, ".mp4"))
	assert.False(t, MatchExt(VideoISOSegment, ".mp4"))
	assert.False(t, MatchExt(VideoMP4, ".xml"))
}
