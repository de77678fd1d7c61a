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

package mediaingest

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/media/mp4"
	"github.com/nagare-media/vod/pkg/volume"
	"github.com/nagare-media/vod/pkg/volume/mem"
)

// minimal AVC decoder configuration record, Baseline profile, no parameter
// sets
var testAvcC = []byte{0x01, 0x42, 0xc0, 0x1e, 0xff, 0xe0, 0x00}

// AudioSpecificConfig for AAC-LC, 48 kHz, stereo
var testASC = []byte{0x11, 0x90}

// raw styp and free boxes as a packager would interleave them
var (
	stypBytes = []byte{0, 0, 0, 20, 's', 't', 'y', 'p', 'm', 's', 'd', 'h', 0, 0, 0, 0, 'm', 's', 'd', 'h'}
	freeBytes = []byte{0, 0, 0, 16, 'f', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0}
)

const (
	videoSamples = 8
	videoStep    = 512
	videoLen     = 16
)

func testVideoTrack() *media.Track {
	tr := &media.Track{
		ID:           1,
		Number:       1,
		MediaType:    media.VideoMediaType,
		Codec:        "avc1.42C01E",
		MimeType:     "video/mp4",
		Timescale:    15360,
		Duration:     videoSamples * videoStep,
		Video:        &media.VideoInfo{Width: 1280, Height: 720, FPSNum: 30, FPSDenum: 1, SARW: 1, SARH: 1},
		CodecPrivate: testAvcC,
	}
	var offset uint64
	for i := 0; i < videoSamples; i++ {
		var flags uint32
		if i%4 == 0 {
			flags = media.SampleFlagRAP
		}
		tr.Samples = append(tr.Samples, media.Sample{
			DTS:      uint64(i) * videoStep,
			Duration: videoStep,
			Offset:   offset,
			Length:   videoLen,
			Flags:    flags,
		})
		offset += videoLen
	}
	return tr
}

func testAudioTrack() *media.Track {
	tr := &media.Track{
		ID:           1,
		Number:       1,
		MediaType:    media.AudioMediaType,
		Codec:        "mp4a.40.2",
		MimeType:     "audio/mp4",
		Timescale:    48000,
		Duration:     4 * 1024,
		Audio:        &media.AudioInfo{SampleRate: 48000, Channels: 2},
		CodecPrivate: testASC,
	}
	var offset uint64
	for i := 0; i < 4; i++ {
		tr.Samples = append(tr.Samples, media.Sample{
			DTS:      uint64(i) * 1024,
			Duration: 1024,
			Offset:   offset,
			Length:   8,
			Flags:    media.SampleFlagRAP,
		})
		offset += 8
	}
	return tr
}

// samplePayload returns the coded bytes of samples [first, first+n) with a
// recognizable per-sample fill.
func samplePayload(tr *media.Track, first, n int) []byte {
	var data []byte
	for i := first; i < first+n; i++ {
		fill := bytes.Repeat([]byte{byte(i)}, int(tr.Samples[i].Length))
		data = append(data, fill...)
	}
	return data
}

// buildVideoUpload produces a fragmented MP4 with an styp in front of the
// first fragment and a trailing free box: init + styp + frag(0..3) +
// frag(4..7) + free.
func buildVideoUpload(t *testing.T) []byte {
	t.Helper()

	tr := testVideoTrack()
	sw, err := mp4.NewSegmentWriter(tr)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sw.WriteInit(&buf))
	buf.Write(stypBytes)
	require.NoError(t, sw.WriteSegment(&buf, mp4.SegmentOptions{
		PosStart:         0,
		PosEnd:           3,
		DTSStartAbsolute: 0,
		SequenceNumber:   1,
		SampleData:       samplePayload(tr, 0, 4),
	}))
	require.NoError(t, sw.WriteSegment(&buf, mp4.SegmentOptions{
		PosStart:         4,
		PosEnd:           7,
		DTSStartAbsolute: 4 * videoStep,
		SequenceNumber:   2,
		SampleData:       samplePayload(tr, 4, 4),
	}))
	buf.Write(freeBytes)
	return buf.Bytes()
}

func buildAudioUpload(t *testing.T) []byte {
	t.Helper()

	tr := testAudioTrack()
	sw, err := mp4.NewSegmentWriter(tr)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sw.WriteInit(&buf))
	require.NoError(t, sw.WriteSegment(&buf, mp4.SegmentOptions{
		PosStart:       0,
		PosEnd:         3,
		SequenceNumber: 1,
		SampleData:     samplePayload(tr, 0, 4),
	}))
	return buf.Bytes()
}

func testConfig() v1alpha1.App {
	return v1alpha1.App{
		Name: "mediaingest",
		MediaIngest: &v1alpha1.MediaIngest{
			BucketRef: v1alpha1.Reference{Name: "vod"},
		},
	}
}

type testExecCtx struct {
	resolver blob.Resolver
}

func (testExecCtx) Logger() *zap.SugaredLogger           { return zap.NewNop().Sugar() }
func (testExecCtx) PathPrefix(override ...string) string { return "/" }
func (testExecCtx) VolumeRegistry() volume.Registry      { return nil }
func (e testExecCtx) BucketResolver() blob.Resolver      { return e.resolver }

func testServer(t *testing.T, cfg v1alpha1.App) (*fiber.App, app.App, *blob.Store) {
	t.Helper()

	vol, err := mem.New(v1alpha1.Volume{Name: "test", Memory: &v1alpha1.MemoryVolume{}})
	require.NoError(t, err)
	resolver := blob.MapResolver{"vod": vol}

	a, err := New(cfg)
	require.NoError(t, err)
	a.SetCtx(context.Background())
	a.SetExecCtx(testExecCtx{resolver: resolver})

	fiberApp := fiber.New(fiber.Config{StreamRequestBody: true})
	reg, ok := a.(interface {
		RegisterHTTPRoutes(r router.Router, handleOptions bool) error
	})
	require.True(t, ok)
	require.NoError(t, reg.RegisterHTTPRoutes(router.New(fiberApp), false))

	return fiberApp, a, blob.NewStore(resolver)
}

func upload(t *testing.T, fiberApp *fiber.App, target string, body []byte) *http.Response {
	t.Helper()
	resp, err := fiberApp.Test(httptest.NewRequest(fiber.MethodPut, target, bytes.NewReader(body)), -1)
	require.NoError(t, err)
	return resp
}

func TestIngestStoresAssetVerbatim(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())
	data := buildVideoUpload(t)

	resp := upload(t, fiberApp, "/movie.mp4", data)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	stored, err := store.ReadAll("vod", "movie.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	metaBytes, err := store.ReadAll("vod", "movie.mp4.meta", 0)
	require.NoError(t, err)
	m, err := media.DecodeMetadata(bytes.NewReader(metaBytes))
	require.NoError(t, err)
	require.Len(t, m.Tracks, 1)

	tr := &m.Tracks[0]
	assert.Equal(t, uint32(1), tr.ID)
	assert.Equal(t, uint32(1), tr.Number)
	assert.Equal(t, media.VideoMediaType, tr.MediaType)
	assert.Equal(t, "avc1.42C01E", tr.Codec)
	assert.Equal(t, "video/mp4", tr.MimeType)
	assert.Equal(t, uint32(15360), tr.Timescale)
	assert.Equal(t, uint64(videoSamples*videoStep), tr.Duration)
	assert.Equal(t, testAvcC, tr.CodecPrivate)
	assert.NotZero(t, tr.Bandwidth)

	require.NotNil(t, tr.Video)
	assert.Equal(t, uint32(1280), tr.Video.Width)
	assert.Equal(t, uint32(720), tr.Video.Height)
	assert.Equal(t, uint32(15360), tr.Video.FPSNum)
	assert.Equal(t, uint32(videoStep), tr.Video.FPSDenum)

	require.Len(t, tr.Samples, videoSamples)
	for i, s := range tr.Samples {
		assert.Equal(t, uint64(i)*videoStep, s.DTS)
		assert.Equal(t, uint32(videoStep), s.Duration)
		assert.Equal(t, uint32(videoLen), s.Length)
		assert.Equal(t, i%4 == 0, s.IsRAP())

		// offsets address the sample bytes within the stored asset
		want := bytes.Repeat([]byte{byte(i)}, videoLen)
		assert.Equal(t, want, stored[s.Offset:s.Offset+uint64(s.Length)])
	}
}

func TestIngestAudio(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())
	data := buildAudioUpload(t)

	resp := upload(t, fiberApp, "/audio/movie.m4a", data)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	stored, err := store.ReadAll("vod", "audio/movie.m4a", 0)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	metaBytes, err := store.ReadAll("vod", "audio/movie.m4a.meta", 0)
	require.NoError(t, err)
	m, err := media.DecodeMetadata(bytes.NewReader(metaBytes))
	require.NoError(t, err)
	require.Len(t, m.Tracks, 1)

	tr := &m.Tracks[0]
	assert.Equal(t, media.AudioMediaType, tr.MediaType)
	assert.Equal(t, "mp4a.40.2", tr.Codec)
	assert.Equal(t, uint32(48000), tr.Timescale)
	assert.Equal(t, uint64(4*1024), tr.Duration)
	require.NotNil(t, tr.Audio)
	assert.Equal(t, uint32(48000), tr.Audio.SampleRate)
	assert.Equal(t, uint32(2), tr.Audio.Channels)

	require.Len(t, tr.Samples, 4)
	for i, s := range tr.Samples {
		want := bytes.Repeat([]byte{byte(i)}, int(s.Length))
		assert.Equal(t, want, stored[s.Offset:s.Offset+uint64(s.Length)])
	}
}

func TestIngestHeaderOnly(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())

	tr := testVideoTrack()
	sw, err := mp4.NewSegmentWriter(tr)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, sw.WriteInit(&buf))
	buf.Write(freeBytes)
	data := buf.Bytes()

	resp := upload(t, fiberApp, "/header-only.mp4", data)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	stored, err := store.ReadAll("vod", "header-only.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	metaBytes, err := store.ReadAll("vod", "header-only.mp4.meta", 0)
	require.NoError(t, err)
	m, err := media.DecodeMetadata(bytes.NewReader(metaBytes))
	require.NoError(t, err)
	require.Len(t, m.Tracks, 1)
	assert.Empty(t, m.Tracks[0].Samples)
	assert.Zero(t, m.Tracks[0].Duration)
}

func TestIngestRejectsGarbage(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())

	resp := upload(t, fiberApp, "/garbage.mp4", []byte("this is not a fragmented MP4 at all"))
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	_, err := store.ReadAll("vod", "garbage.mp4", 0)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestIngestRejectsTruncatedUpload(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())
	data := buildVideoUpload(t)

	// cut into the last mdat payload
	resp := upload(t, fiberApp, "/truncated.mp4", data[:len(data)-len(freeBytes)-10])
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)

	_, err := store.ReadAll("vod", "truncated.mp4", 0)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestIngestRejectsOversizedMdat(t *testing.T) {
	cfg := testConfig()
	cfg.MediaIngest.MaxChunkMdatSize = 32 // each fragment carries 64 bytes
	fiberApp, _, store := testServer(t, cfg)

	resp := upload(t, fiberApp, "/large.mp4", buildVideoUpload(t))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)

	_, err := store.ReadAll("vod", "large.mp4", 0)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestIngestRejectsOversizedHeader(t *testing.T) {
	cfg := testConfig()
	cfg.MediaIngest.MaxHeaderSize = 64
	fiberApp, _, _ := testServer(t, cfg)

	resp := upload(t, fiberApp, "/large-header.mp4", buildVideoUpload(t))
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestIngestRejectsUploadPath(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := upload(t, fiberApp, "/movie,v1.mp4", buildVideoUpload(t))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestIngestRejectsEmptyBody(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := upload(t, fiberApp, "/empty.mp4", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestIngestPublishesEvents(t *testing.T) {
	fiberApp, a, _ := testServer(t, testConfig())
	ch := a.EventStream().Sub()

	resp := upload(t, fiberApp, "/movie.mp4", buildVideoUpload(t))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// event delivery order is not guaranteed; collect until all expected
	// events were seen
	deadline := time.After(2 * time.Second)
	var gotAsset *event.AssetEvent
	committed := map[string]bool{}
	for gotAsset == nil || !committed["/movie.mp4"] || !committed["/movie.mp4.meta"] {
		select {
		case e := <-ch:
			switch ev := e.(type) {
			case *event.FileEvent:
				if ev.Type == event.FileCommittedEvent {
					committed[ev.Key] = true
				}
			case *event.AssetEvent:
				gotAsset = ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for ingest events")
		}
	}

	assert.Equal(t, event.AssetIngestedEvent, gotAsset.Type)
	assert.Equal(t, "vod", gotAsset.Bucket)
	assert.Equal(t, "/movie.mp4", gotAsset.Key)
	require.NotNil(t, gotAsset.Media)
	require.Len(t, gotAsset.Media.Tracks, 1)
	assert.Len(t, gotAsset.Media.Tracks[0].Samples, videoSamples)
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MediaIngest.BucketRef.Name = ""
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Name = "media ingest"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	got := a.Config().MediaIngest
	assert.Equal(t, DefaultConfig.MetadataSuffix, got.MetadataSuffix)
	assert.Equal(t, DefaultConfig.MaxHeaderSize, got.MaxHeaderSize)
	assert.Equal(t, DefaultConfig.MaxChunkHeaderSize, got.MaxChunkHeaderSize)
	assert.Equal(t, DefaultConfig.MaxChunkMdatSize, got.MaxChunkMdatSize)
}
