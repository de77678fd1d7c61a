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

package genericserve

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/volume"
	"github.com/nagare-media/vod/pkg/volume/mem"
)

func testConfig(bucketRefs ...string) v1alpha1.App {
	refs := make([]v1alpha1.Reference, 0, len(bucketRefs))
	for _, name := range bucketRefs {
		refs = append(refs, v1alpha1.Reference{Name: name})
	}
	return v1alpha1.App{
		Name:         "genericserve",
		GenericServe: &v1alpha1.GenericServe{BucketRefs: refs},
	}
}

type testExecCtx struct {
	resolver blob.Resolver
}

func (testExecCtx) Logger() *zap.SugaredLogger           { return zap.NewNop().Sugar() }
func (testExecCtx) PathPrefix(override ...string) string { return "/" }
func (testExecCtx) VolumeRegistry() volume.Registry      { return nil }
func (e testExecCtx) BucketResolver() blob.Resolver      { return e.resolver }

func testServer(t *testing.T, cfg v1alpha1.App) (*fiber.App, blob.MapResolver) {
	t.Helper()

	resolver := blob.MapResolver{}
	for _, bRef := range cfg.GenericServe.BucketRefs {
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

	return fiberApp, resolver
}

func writeTestFile(t *testing.T, vol volume.Volume, path string, data []byte) {
	t.Helper()
	f, err := vol.OpenCreate(path)
	require.NoError(t, err)
	fw, err := f.AcquireWriter()
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, fw.Commit())
}

func get(t *testing.T, fiberApp *fiber.App, target string, header map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := fiberApp.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestGetServesObject(t *testing.T) {
	fiberApp, resolver := testServer(t, testConfig("vod"))
	data := []byte("segment payload")
	writeTestFile(t, resolver["vod"], "/movie/chunk-1.m4s", data)

	resp := get(t, fiberApp, "/movie/chunk-1.m4s", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/iso.segment", resp.Header.Get(fiber.HeaderContentType))
	assert.Equal(t, "bytes", resp.Header.Get(fiber.HeaderAcceptRanges))
	assert.Equal(t, "nosniff", resp.Header.Get(fiber.HeaderXContentTypeOptions))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderETag))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderLastModified))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)
}

func TestGetFallsBackToDefaultContentType(t *testing.T) {
	fiberApp, resolver := testServer(t, testConfig("vod"))
	writeTestFile(t, resolver["vod"], "/movie/raw.dat", []byte("data"))

	resp := get(t, fiberApp, "/movie/raw.dat", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get(fiber.HeaderContentType))
}

func TestGetSearchesBucketsInOrder(t *testing.T) {
	fiberApp, resolver := testServer(t, testConfig("first", "second"))
	writeTestFile(t, resolver["second"], "/only-second.bin", []byte("second"))
	writeTestFile(t, resolver["first"], "/both.bin", []byte("first"))
	writeTestFile(t, resolver["second"], "/both.bin", []byte("second"))

	resp := get(t, fiberApp, "/only-second.bin", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), body)

	resp = get(t, fiberApp, "/both.bin", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), body)
}

func TestGetRange(t *testing.T) {
	fiberApp, resolver := testServer(t, testConfig("vod"))
	writeTestFile(t, resolver["vod"], "/movie.bin", []byte("0123456789"))

	resp := get(t, fiberApp, "/movie.bin", map[string]string{fiber.HeaderRange: "bytes=2-5"})
	assert.Equal(t, fiber.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 2-5/10", resp.Header.Get(fiber.HeaderContentRange))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), body)
}

func TestGetRejectsUnsatisfiableRange(t *testing.T) {
	fiberApp, resolver := testServer(t, testConfig("vod"))
	writeTestFile(t, resolver["vod"], "/movie.bin", []byte("0123456789"))

	resp := get(t, fiberApp, "/movie.bin", map[string]string{fiber.HeaderRange: "bytes=20-30"})
	assert.Equal(t, fiber.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestGetUnknownKey(t *testing.T) {
	fiberApp, _ := testServer(t, testConfig("vod"))

	resp := get(t, fiberApp, "/missing.bin", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetXAccelRedirect(t *testing.T) {
	cfg := testConfig("vod")
	cfg.GenericServe.UseXAccelHeader = true

	fiberApp, resolver := testServer(t, cfg)
	writeTestFile(t, resolver["vod"], "/movie.bin", []byte("data"))

	resp := get(t, fiberApp, "/movie.bin", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "/movie.bin", resp.Header.Get("X-Accel-Redirect"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestNewValidation(t *testing.T) {
	_, err := New(v1alpha1.App{Name: "genericserve", GenericServe: &v1alpha1.GenericServe{}})
	assert.Error(t, err)

	_, err = New(testConfig(""))
	assert.Error(t, err)

	cfg := testConfig("vod")
	cfg.Name = "not/valid"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNewAppliesDefaults(t *testing.T) {
	a, err := New(testConfig("vod"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig.DefaultContentType, a.Config().GenericServe.DefaultContentType)
}
