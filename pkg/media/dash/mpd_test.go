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

package dash

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/media"
)

func videoMedia(codec string, bandwidth uint64, w, h uint32) *media.Media {
	return &media.Media{Tracks: []media.Track{{
		ID:        1,
		Number:    1,
		MediaType: media.VideoMediaType,
		Codec:     codec,
		MimeType:  "video/mp4",
		Bandwidth: bandwidth,
		Timescale: 15360,
		Duration:  15360 * 12,
		Video:     &media.VideoInfo{Width: w, Height: h, FPSNum: 30, FPSDenum: 1, SARW: 1, SARH: 1},
		Samples:   []media.Sample{{DTS: 0, Duration: 512, Length: 100, Flags: media.SampleFlagRAP}},
	}}}
}

func audioMedia() *media.Media {
	return &media.Media{Tracks: []media.Track{{
		ID:        2,
		Number:    1,
		MediaType: media.AudioMediaType,
		Codec:     "mp4a.40.2",
		MimeType:  "audio/mp4",
		Bandwidth: 128000,
		Timescale: 48000,
		Duration:  48000 * 12,
		Audio:     &media.AudioInfo{SampleRate: 48000, Channels: 2},
		Samples:   []media.Sample{{DTS: 0, Duration: 1024, Length: 100, Flags: media.SampleFlagRAP}},
	}}}
}

func testPresentation(t *testing.T, assets map[string]*media.Media, cfg v1alpha1.Presentation) *media.Presentation {
	t.Helper()
	resolve := func(_ context.Context, bucket, key string) (*media.Media, error) {
		m, ok := assets[key]
		if !ok {
			return nil, fmt.Errorf("asset %s/%s: %w", bucket, key, media.ErrNotFound)
		}
		return m, nil
	}
	p, err := media.NewPresentation(context.Background(), cfg, 4*time.Second, resolve)
	require.NoError(t, err)
	return p
}

func singleVideoPresentation(t *testing.T) *media.Presentation {
	t.Helper()
	return testPresentation(t,
		map[string]*media.Media{"movie": videoMedia("avc1.42C01E", 3000000, 1280, 720)},
		v1alpha1.Presentation{
			Name:    "movie",
			BaseURL: "http://cdn.example/movie/",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"v0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie"}}},
			},
		})
}

func renderMPD(t *testing.T, p *media.Presentation) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, NewMPD(p).Write(&buf))
	return buf.String()
}

func TestMPDSingleVideoRepresentation(t *testing.T) {
	out := renderMPD(t, singleVideoPresentation(t))

	assert.Contains(t, out, `xmlns="urn:mpeg:dash:schema:mpd:2011"`)
	assert.Contains(t, out, `minBufferTime="PT1.500S"`)
	assert.Contains(t, out, `type="static"`)
	assert.Contains(t, out, `profiles="urn:mpeg:dash:profile:full:2011"`)
	assert.Contains(t, out, `mediaPresentationDuration="PT0H0M12.000S"`)
	assert.Contains(t, out, `maxSegmentDuration="PT0H0M4.000S"`)
	assert.Contains(t, out, `<BaseURL>http://cdn.example/movie/</BaseURL>`)
	assert.Contains(t, out, `<Period id="period_id">`)
	assert.Contains(t, out, `<AdaptationSet segmentAlignment="true">`)

	assert.Contains(t, out, `id="v0"`)
	assert.Contains(t, out, `mimeType="video/mp4"`)
	assert.Contains(t, out, `codecs="avc1.42C01E"`)
	assert.Contains(t, out, `bandwidth="3000000"`)
	assert.Contains(t, out, `startWithSAP="1"`)
	assert.Contains(t, out, `width="1280"`)
	assert.Contains(t, out, `height="720"`)
	assert.Contains(t, out, `frameRate="30"`)
	assert.Contains(t, out, `sar="1:1"`)

	assert.Contains(t, out, `timescale="15360"`)
	assert.Contains(t, out, `duration="61440"`)
	assert.Contains(t, out, `startNumber="0"`)
	assert.Contains(t, out, `initialization="init/v0"`)
	assert.Contains(t, out, `media="play/v0/$Number$"`)

	assert.NotContains(t, out, "audioSamplingRate")
	assert.NotContains(t, out, "AudioChannelConfiguration")
}

func TestMPDAudioRepresentation(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{"movie-audio": audioMedia()},
		v1alpha1.Presentation{
			Name: "movie",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"a0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "a0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie-audio"}}},
			},
		})
	out := renderMPD(t, p)

	assert.Contains(t, out, `codecs="mp4a.40.2"`)
	assert.Contains(t, out, `audioSamplingRate="48000"`)
	assert.Contains(t, out, `schemeIdUri="urn:mpeg:dash:23003:3:audio_channel_configuration:2011"`)
	assert.Contains(t, out, `value="2"`)
	assert.Contains(t, out, `timescale="48000"`)
	assert.Contains(t, out, `duration="192000"`)
	assert.NotContains(t, out, ` width=`)
	assert.NotContains(t, out, ` sar=`)
}

func TestMPDKeepsAvc3CodecString(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{"movie": videoMedia("avc3.42C01E", 3000000, 1280, 720)},
		v1alpha1.Presentation{
			Name: "movie",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"v0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie"}}},
			},
		})

	assert.Contains(t, renderMPD(t, p), `codecs="avc3.42C01E"`)
}

func TestMPDSortsRepresentations(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{
			"low":  videoMedia("avc1.42C01E", 1000000, 640, 360),
			"high": videoMedia("avc1.640028", 6000000, 1920, 1080),
		},
		v1alpha1.Presentation{
			Name: "movie",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"v1", "v0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "v1", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "high"}}},
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "low"}}},
			},
		})
	out := renderMPD(t, p)

	i0 := strings.Index(out, `id="v0"`)
	i1 := strings.Index(out, `id="v1"`)
	require.NotEqual(t, -1, i0)
	require.NotEqual(t, -1, i1)
	assert.Less(t, i0, i1, "adaptation sets follow representation ID order")
}

func TestMPDSkipsRepresentationWithoutTracks(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{"movie": videoMedia("avc1.42C01E", 3000000, 1280, 720)},
		v1alpha1.Presentation{
			Name: "movie",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"v0", "x0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie"}}},
				{ID: "x0"},
			},
		})
	out := renderMPD(t, p)

	assert.Contains(t, out, `id="v0"`)
	assert.NotContains(t, out, `id="x0"`)
}

func TestMPDDeterministic(t *testing.T) {
	p := singleVideoPresentation(t)
	assert.Equal(t, renderMPD(t, p), renderMPD(t, p))
}

func TestMPDEscapesBaseURL(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{"movie": videoMedia("avc1.42C01E", 3000000, 1280, 720)},
		v1alpha1.Presentation{
			Name:    "movie",
			BaseURL: "http://cdn.example/movie?a=1&b=2",
			Periods: []v1alpha1.Period{
				{Adaptations: []v1alpha1.Adaptation{{Representations: []string{"v0"}}}},
			},
			Representations: []v1alpha1.Representation{
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie"}}},
			},
		})

	assert.Contains(t, renderMPD(t, p), "http://cdn.example/movie?a=1&amp;b=2")
}

func TestMPDWithoutPeriods(t *testing.T) {
	p := testPresentation(t,
		map[string]*media.Media{"movie": videoMedia("avc1.42C01E", 3000000, 1280, 720)},
		v1alpha1.Presentation{
			Name: "movie",
			Representations: []v1alpha1.Representation{
				{ID: "v0", Tracks: []v1alpha1.TrackRequest{{BucketRef: v1alpha1.Reference{Name: "vod"}, Key: "movie"}}},
			},
		})
	out := renderMPD(t, p)

	assert.NotContains(t, out, "<Period")
	assert.Contains(t, out, `mediaPresentationDuration="PT0H0M12.000S"`)
}
