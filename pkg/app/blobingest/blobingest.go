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
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/inhies/go-bytesize"

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/http"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/mime"
	"github.com/nagare-media/vod/pkg/volume"
)

var DefaultConfig = v1alpha1.BlobIngest{
	RequestBodyBufferSize: 32 * bytesize.KB,
	MaxManifestSize:       5 * bytesize.MB,
	MaxSegmentSize:        15 * bytesize.MB,
	MaxMetadataSize:       100 * bytesize.MB,
	MaxObjectSize:         16 * bytesize.GB,
}

// blobIngest accepts raw object uploads into buckets. Unlike mediaIngest the
// bytes are stored as-is, e.g. whole assets with side-car metadata produced
// offline, manifests or encryption keys.
type blobIngest struct {
	cfg         v1alpha1.App
	eventStream event.Stream
	ctx         context.Context
	execCtx     app.ExecCtx

	store   *blob.Store
	buckets map[string]bool

	bufferPool sync.Pool
}

func New(cfg v1alpha1.App) (app.App, error) {
	if err := app.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.BlobIngest.BucketRefs) == 0 {
		return nil, errors.New("blobingest.New: bucketRefs is missing")
	}

	for _, d := range []struct {
		size *bytesize.ByteSize
		def  bytesize.ByteSize
	}{
		{&cfg.BlobIngest.RequestBodyBufferSize, DefaultConfig.RequestBodyBufferSize},
		{&cfg.BlobIngest.MaxManifestSize, DefaultConfig.MaxManifestSize},
		{&cfg.BlobIngest.MaxSegmentSize, DefaultConfig.MaxSegmentSize},
		{&cfg.BlobIngest.MaxMetadataSize, DefaultConfig.MaxMetadataSize},
		{&cfg.BlobIngest.MaxObjectSize, DefaultConfig.MaxObjectSize},
	} {
		if *d.size <= 0 {
			*d.size = d.def
		}
	}

	buckets := make(map[string]bool, len(cfg.BlobIngest.BucketRefs))
	for _, bRef := range cfg.BlobIngest.BucketRefs {
		if bRef.Name == "" {
			return nil, errors.New("blobingest.New: bucketRef without name")
		}
		buckets[bRef.Name] = true
	}

	a := &blobIngest{
		cfg:         cfg,
		eventStream: event.NewStream(),
		buckets:     buckets,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, cfg.BlobIngest.RequestBodyBufferSize)
			},
		},
	}
	return a, nil
}

func (a *blobIngest) Config() v1alpha1.App {
	return a.cfg
}

func (a *blobIngest) HTTPConfig() *v1alpha1.HTTPApp {
	return a.cfg.HTTP
}

func (a *blobIngest) EventStream() event.Stream {
	return a.eventStream
}

func (a *blobIngest) SetCtx(ctx context.Context) {
	a.ctx = ctx
	a.eventStream.Start(ctx)
}

func (a *blobIngest) SetExecCtx(execCtx app.ExecCtx) {
	a.execCtx = execCtx
	a.store = blob.NewStore(execCtx.BucketResolver())
}

func (a *blobIngest) RegisterHTTPRoutes(router router.Router, handleOptions bool) error {
	router.
		Post("/:bucket/+", a.handleUpload).
		Put("/:bucket/+", a.handleUpload).
		Delete("/:bucket/+", a.handleDelete)

	if handleOptions { // preflight requests
		router.Options("/:bucket/+", http.NoContentHandler)
	}

	return nil
}

// objectKey extracts and validates the bucket and object key of the request.
func (a *blobIngest) objectKey(c *fiber.Ctx) (bucket, key string, err error) {
	bucket = c.Params("bucket")
	if !a.buckets[bucket] {
		return "", "", fiber.ErrNotFound
	}

	key = path.Join("/", c.Params("+")) // Join will also clean path
	if !http.UploadPathRegex.MatchString(key) {
		return "", "", http.ErrUnsupportedUploadPath
	}

	return bucket, key, nil
}

// checkContentType requires a matching MIME type for known media extensions;
// other objects are stored as-is.
func checkContentType(c *fiber.Ctx, fileExt string) error {
	if len(mime.TypesExt(fileExt)) == 0 {
		return nil
	}
	mimeType := mime.NormalizeExt(strings.ToLower(c.Get(fiber.HeaderContentType)), fileExt)
	if !mime.MatchExt(mimeType, fileExt) {
		return fiber.ErrUnsupportedMediaType
	}
	return nil
}

func (a *blobIngest) sizeLimit(ft media.FileType) int64 {
	switch {
	case ft.IsManifest():
		return int64(a.cfg.BlobIngest.MaxManifestSize)
	case ft.IsSegment():
		return int64(a.cfg.BlobIngest.MaxSegmentSize)
	case ft.IsMetadata():
		return int64(a.cfg.BlobIngest.MaxMetadataSize)
	}
	return int64(a.cfg.BlobIngest.MaxObjectSize)
}

// copyBody streams body into w accepting at most limit bytes. It returns
// fiber.ErrRequestEntityTooLarge when the body holds more.
func (a *blobIngest) copyBody(w io.Writer, body io.Reader, limit int64) (int64, error) {
	buf := a.bufferPool.Get().([]byte)
	defer a.bufferPool.Put(buf) // nolint

	n, err := io.CopyBuffer(w, io.LimitReader(body, limit), buf)
	if err != nil {
		return n, err
	}

	if n == limit {
		// peek one byte to distinguish a body of exactly limit bytes from a
		// larger one
		var b [1]byte
		if nr, _ := body.Read(b[:]); nr > 0 {
			return n, fiber.ErrRequestEntityTooLarge
		}
	}

	return n, nil
}

func (a *blobIngest) handleUpload(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	bucket, key, err := a.objectKey(c)
	if err != nil {
		return err
	}

	fileExt := strings.ToLower(path.Ext(key))
	if err = checkContentType(c, fileExt); err != nil {
		return err
	}

	if !c.Request().IsBodyStream() {
		return http.ErrNotAFileStream
	}
	reqReader := c.Context().RequestBodyStream()

	fileWriter, err := a.store.Writer(bucket, key) // Closed through Commit or Abort below
	if err != nil {
		switch {
		case errors.Is(err, blob.ErrInvalidKey):
			return http.ErrUnsupportedUploadPath
		case errors.Is(err, volume.ErrReadOnly):
			return fiber.ErrForbidden
		}
		log.With("error", err).Error("failed to open object for writing")
		return fiber.ErrInternalServerError
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileStartEvent, bucket, key, 0))

	n, err := a.copyBody(fileWriter, reqReader, a.sizeLimit(media.FileTypeExt(fileExt)))
	if err != nil {
		if ea := fileWriter.Abort(); ea != nil {
			log.With("error", ea).Warn("failed to abort upload")
		}
		a.eventStream.Pub(event.NewFileEvent(event.FileAbortedEvent, bucket, key, uint64(n)))
		if errors.Is(err, fiber.ErrRequestEntityTooLarge) {
			return fiber.ErrRequestEntityTooLarge
		}
		log.With("error", err).Error("failed to write upload")
		return fiber.ErrInternalServerError
	}

	if err = fileWriter.Commit(); err != nil {
		a.eventStream.Pub(event.NewFileEvent(event.FileAbortedEvent, bucket, key, uint64(n)))
		log.With("error", err).Error("failed to commit upload")
		return fiber.ErrInternalServerError
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileCommittedEvent, bucket, key, uint64(n)))

	c.Status(fiber.StatusCreated)
	return nil
}

func (a *blobIngest) handleDelete(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	bucket, key, err := a.objectKey(c)
	if err != nil {
		return err
	}

	if err = a.store.Delete(bucket, key); err != nil {
		switch {
		case errors.Is(err, blob.ErrNotExist), errors.Is(err, blob.ErrUnknownBucket):
			return fiber.ErrNotFound
		case errors.Is(err, blob.ErrInvalidKey):
			return http.ErrUnsupportedUploadPath
		case errors.Is(err, volume.ErrReadOnly):
			return fiber.ErrForbidden
		}
		log.With("error", err).Errorf("failed to delete object: '%s/%s'", bucket, key)
		return fiber.ErrInternalServerError
	}

	a.eventStream.Pub(event.NewFileEvent(event.FileDeletedEvent, bucket, key, 0))

	c.Status(fiber.StatusOK)
	return nil
}
