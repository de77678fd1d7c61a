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

package blobingest

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
	"github.com/nagare-media/vod/pkg/volume"
	"github.com/nagare-media/vod/pkg/volume/mem"
)

func testConfig() v1alpha1.App {
	return v1alpha1.App{
		Name: "blobingest",
		BlobIngest: &v1alpha1.BlobIngest{
			BucketRefs: []v1alpha1.Reference{{Name: "vod"}, {Name: "keys"}},
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

	resolver := blob.MapResolver{}
	for _, bRef := range cfg.BlobIngest.BucketRefs {
		vol, err := mem.New(v1alpha1.Volume{Name: bRef.Name, Memory: &v1alpha1.MemoryVolume{}})
		require.NoError(t, err)
		resolver[bRef.Name] = vol
	}

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

func do(t *testing.T, fiberApp *fiber.App, method, target, contentType string, body []byte) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	resp, err := fiberApp.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestUploadStoresObject(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())
	data := []byte("arbitrary blob payload")

	resp := do(t, fiberApp, fiber.MethodPut, "/vod/assets/movie.bin", "", data)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	stored, err := store.ReadAll("vod", "assets/movie.bin", 0)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestUploadKnownExtensions(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())

	for _, tt := range []struct {
		key         string
		contentType string
	}{
		{"/vod/manifest.mpd", "application/dash+xml"},
		{"/vod/master.m3u8", "application/vnd.apple.mpegurl"},
		{"/vod/chunk.m4s", "video/iso.segment"},
		{"/vod/movie.mp4.meta", "application/octet-stream"},
		{"/keys/movie.key", "application/octet-stream"},
		// empty MIME types are normalized according to the file extension
		{"/vod/movie.mp4", ""},
		// MIME type aliases are normalized
		{"/vod/playlist.m3u8", "audio/x-mpegurl"},
	} {
		resp := do(t, fiberApp, fiber.MethodPut, tt.key, tt.contentType, []byte("payload"))
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode, "upload of '%s'", tt.key)
	}

	stored, err := store.ReadAll("keys", "movie.key", 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), stored)
}

func TestUploadRejectsMismatchedMIMEType(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())

	// an HLS playlist MIME type normalizes to application/vnd.apple.mpegurl
	// which cannot match a DASH manifest extension
	resp := do(t, fiberApp, fiber.MethodPut, "/vod/manifest.mpd", "audio/mpegurl", []byte("#EXTM3U"))
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)

	_, err := store.ReadAll("vod", "manifest.mpd", 0)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestUploadRejectsUnknownBucket(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodPut, "/other/movie.bin", "", []byte("payload"))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestUploadRejectsUploadPath(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodPut, "/vod/movie,v1.bin", "", []byte("payload"))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodPut, "/vod/empty.bin", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUploadSizeCaps(t *testing.T) {
	body := bytes.Repeat([]byte{0x42}, 64)

	for _, tt := range []struct {
		name        string
		key         string
		contentType string
		configure   func(cfg *v1alpha1.BlobIngest)
	}{
		{"manifest", "/vod/manifest.mpd", "application/dash+xml",
			func(cfg *v1alpha1.BlobIngest) { cfg.MaxManifestSize = 16 }},
		{"segment", "/vod/chunk.m4s", "video/iso.segment",
			func(cfg *v1alpha1.BlobIngest) { cfg.MaxSegmentSize = 16 }},
		{"metadata", "/vod/movie.mp4.meta", "application/octet-stream",
			func(cfg *v1alpha1.BlobIngest) { cfg.MaxMetadataSize = 16 }},
		{"object", "/vod/movie.bin", "",
			func(cfg *v1alpha1.BlobIngest) { cfg.MaxObjectSize = 16 }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.configure(cfg.BlobIngest)
			fiberApp, _, store := testServer(t, cfg)

			resp := do(t, fiberApp, fiber.MethodPut, tt.key, tt.contentType, body)
			assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)

			_, err := store.ReadAll("vod", tt.key[len("/vod/"):], 0)
			assert.ErrorIs(t, err, blob.ErrNotExist)
		})
	}
}

func TestUploadSizeCapsAreIndependent(t *testing.T) {
	cfg := testConfig()
	cfg.BlobIngest.MaxManifestSize = 16
	fiberApp, _, store := testServer(t, cfg)
	body := bytes.Repeat([]byte{0x42}, 64)

	// only manifest uploads are bounded by MaxManifestSize
	resp := do(t, fiberApp, fiber.MethodPut, "/vod/chunk.m4s", "video/iso.segment", body)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	stored, err := store.ReadAll("vod", "chunk.m4s", 0)
	require.NoError(t, err)
	assert.Equal(t, body, stored)
}

func TestDelete(t *testing.T) {
	fiberApp, _, store := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodPut, "/vod/movie.bin", "", []byte("payload"))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = do(t, fiberApp, fiber.MethodDelete, "/vod/movie.bin", "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	_, err := store.ReadAll("vod", "movie.bin", 0)
	assert.ErrorIs(t, err, blob.ErrNotExist)
}

func TestDeleteRejectsUnknownBucket(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodDelete, "/other/movie.bin", "", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteRejectsUploadPath(t *testing.T) {
	fiberApp, _, _ := testServer(t, testConfig())

	resp := do(t, fiberApp, fiber.MethodDelete, "/vod/movie,v1.bin", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUploadPublishesEvents(t *testing.T) {
	fiberApp, a, _ := testServer(t, testConfig())
	ch := a.EventStream().Sub()
	data := []byte("payload")

	resp := do(t, fiberApp, fiber.MethodPut, "/vod/movie.bin", "", data)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = do(t, fiberApp, fiber.MethodDelete, "/vod/movie.bin", "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// event delivery order is not guaranteed; collect until all expected
	// events were seen
	deadline := time.After(2 * time.Second)
	seen := map[event.Type]*event.FileEvent{}
	for len(seen) < 3 {
		select {
		case e := <-ch:
			if fe, ok := e.(*event.FileEvent); ok {
				seen[fe.Type] = fe
			}
		case <-deadline:
			t.Fatal("timed out waiting for blob events")
		}
	}

	require.Contains(t, seen, event.FileStartEvent)
	require.Contains(t, seen, event.FileCommittedEvent)
	require.Contains(t, seen, event.FileDeletedEvent)
	for _, fe := range seen {
		assert.Equal(t, "vod", fe.Bucket)
		assert.Equal(t, "/movie.bin", fe.Key)
	}
	assert.Equal(t, uint64(len(data)), seen[event.FileCommittedEvent].Size)
}

func TestNewValidation(t *testing.T) {
	cfg := testConfig()
	cfg.BlobIngest.BucketRefs = nil
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.BlobIngest.BucketRefs = []v1alpha1.Reference{{}}
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Name = "blob ingest"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)

	got := a.Config().BlobIngest
	assert.Equal(t, DefaultConfig.RequestBodyBufferSize, got.RequestBodyBufferSize)
	assert.Equal(t, DefaultConfig.MaxManifestSize, got.MaxManifestSize)
	assert.Equal(t, DefaultConfig.MaxSegmentSize, got.MaxSegmentSize)
	assert.Equal(t, DefaultConfig.MaxMetadataSize, got.MaxMetadataSize)
	assert.Equal(t, DefaultConfig.MaxObjectSize, got.MaxObjectSize)
}
