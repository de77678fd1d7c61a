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
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/http"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/mime"
	"github.com/nagare-media/vod/pkg/volume"
)

// genericServe serves raw bucket objects without further processing. Buckets
// are searched in the configured order; the first one holding the requested
// key wins.
type genericServe struct {
	cfg         v1alpha1.App
	eventStream event.Stream
	ctx         context.Context
	execCtx     app.ExecCtx
}

var (
	DefaultConfig = v1alpha1.GenericServe{
		DefaultContentType: mime.ApplicationOctetStream,
		UseXAccelHeader:    false,
		UseXSendfileHeader: false,
	}
)

func New(cfg v1alpha1.App) (app.App, error) {
	if err := app.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.GenericServe.BucketRefs) == 0 {
		return nil, errors.New("genericserve.New: bucketRefs is missing")
	}
	for _, bRef := range cfg.GenericServe.BucketRefs {
		if bRef.Name == "" {
			return nil, errors.New("genericserve.New: some bucketRefs have no name")
		}
	}
	if cfg.GenericServe.DefaultContentType == "" {
		cfg.GenericServe.DefaultContentType = DefaultConfig.DefaultContentType
	}

	return &genericServe{
		cfg:         cfg,
		eventStream: event.NewStream(),
	}, nil
}

func (a *genericServe) Config() v1alpha1.App {
	return a.cfg
}

func (a *genericServe) HTTPConfig() *v1alpha1.HTTPApp {
	return a.cfg.HTTP
}

func (a *genericServe) EventStream() event.Stream {
	return a.eventStream
}

func (a *genericServe) SetCtx(ctx context.Context) {
	a.ctx = ctx
	a.eventStream.Start(ctx)
}

func (a *genericServe) SetExecCtx(execCtx app.ExecCtx) {
	a.execCtx = execCtx
}

func (a *genericServe) RegisterHTTPRoutes(router router.Router, handleOptions bool) error {
	router.Get("/+", a.handleGet)

	if handleOptions { // preflight requests
		router.Options("/+", http.NoContentHandler)
	}

	return nil
}

func (a *genericServe) handleGet(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	key := path.Join("/", c.Params("+")) // Join also cleans the path

	file, fr, err := a.openFirst(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.ErrNotFound
		}
		log.With("error", err).Errorf("failed to open file '%s'", key)
		return fiber.ErrInternalServerError
	}

	return a.send(c, key, file, fr)
}

// openFirst opens the requested key in the first configured bucket that
// holds it.
func (a *genericServe) openFirst(key string) (volume.File, volume.FileReader, error) {
	for _, bRef := range a.cfg.GenericServe.BucketRefs {
		vol, ok := a.execCtx.BucketResolver().Volume(bRef.Name)
		if !ok {
			return nil, nil, fmt.Errorf("bucket named '%s' not found", bRef.Name)
		}

		file, err := vol.Open(key)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}

		fr, err := file.AcquireReader()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, nil, err
		}

		return file, fr, nil
	}

	return nil, nil, os.ErrNotExist
}

func (a *genericServe) send(c *fiber.Ctx, key string, file volume.File, fr volume.FileReader) error {
	cfg := a.cfg.GenericServe

	// committed objects always have a known size
	size := fr.Size()
	// awkward overflow check for 32-bit systems
	// s. https://github.com/valyala/fasthttp/issues/1222
	contentLength := int(size)
	if size < 0 || size != int64(contentLength) {
		_ = fr.Close()
		return fiber.ErrInternalServerError
	}

	lastModified := fr.ModTime()
	c.Response().Header.SetLastModified(lastModified)
	if contentLength > 0 {
		etag := fmt.Sprintf("%x-%x", lastModified.UnixMilli(), contentLength)
		c.Response().Header.Set(fiber.HeaderETag, etag)
	}

	status := fiber.StatusOK
	body := io.Reader(fr)

	if reqRange := c.Get(fiber.HeaderRange); reqRange != "" {
		var err error
		body, contentLength, err = applyRange(c, fr, reqRange, contentLength)
		if err != nil {
			_ = fr.Close()
			return err
		}
		status = fiber.StatusPartialContent
	}

	contentType := mime.PreferredTypeExt(path.Ext(key))
	if contentType == "" {
		contentType = cfg.DefaultContentType
	}
	c.Response().Header.SetContentType(contentType)
	c.Response().Header.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Response().Header.Set(fiber.HeaderXContentTypeOptions, "nosniff")

	// let an upstream proxy handle delivery of the file
	if cfg.UseXAccelHeader || cfg.UseXSendfileHeader {
		_ = fr.Close()

		if cfg.UseXAccelHeader {
			c.Response().Header.Set("X-Accel-Redirect", file.Name())
		}
		if cfg.UseXSendfileHeader {
			c.Response().Header.Set("X-Sendfile", file.Name())
		}

		c.Status(status)
		return nil
	}

	// TODO: implement conditional requests
	//         * If-Match
	//         * If-None-Match
	//         * If-Modified-Since
	//         * If-Unmodified-Since
	//         * If-Range

	c.Response().SetBodyStream(body, contentLength)
	c.Status(status)
	return nil
}

// applyRange seeks fr to the requested byte range and sets the Content-Range
// header. It returns the response body and the number of bytes it holds.
func applyRange(c *fiber.Ctx, fr volume.FileReader, reqRange string, totalSize int) (io.Reader, int, error) {
	startPos, endPos, err := fasthttp.ParseByteRange([]byte(reqRange), totalSize)
	if err != nil {
		return nil, 0, fiber.ErrRequestedRangeNotSatisfiable
	}

	seekPos, err := fr.Seek(int64(startPos), io.SeekStart)
	if err != nil {
		return nil, 0, fiber.ErrInternalServerError
	}
	if seekPos != int64(startPos) {
		return nil, 0, fiber.ErrRequestedRangeNotSatisfiable
	}

	length := endPos - startPos + 1
	body := &rangeReader{Reader: io.LimitReader(fr, int64(length)), c: fr}
	c.Response().Header.SetContentRange(startPos, endPos, totalSize)
	return body, length, nil
}

// rangeReader keeps the Close method visible behind an io.LimitReader so
// fasthttp releases the underlying file after streaming the range.
type rangeReader struct {
	io.Reader
	c io.Closer
}

func (r *rangeReader) Close() error {
	return r.c.Close()
}
