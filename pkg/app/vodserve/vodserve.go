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

package vodserve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/inhies/go-bytesize"

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/http"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/media/cache"
	"github.com/nagare-media/vod/pkg/media/dash"
	"github.com/nagare-media/vod/pkg/media/hls"
	"github.com/nagare-media/vod/pkg/media/mp4"
	"github.com/nagare-media/vod/pkg/mime"
)

var (
	DefaultConfig = v1alpha1.VODServe{
		MetadataSuffix:  ".meta",
		ChunkDuration:   10 * time.Second,
		MaxMetadataSize: 100 * bytesize.MB,
	}
)

// vodServe is the VOD engine: it answers manifest requests for configured
// presentations and slices fMP4 init and media segments out of ingested
// assets on demand.
type vodServe struct {
	cfg         v1alpha1.App
	eventStream event.Stream
	ctx         context.Context
	execCtx     app.ExecCtx

	buckets map[string]bool

	store *blob.Store
	cache *cache.Cache

	presentations map[string]*media.Presentation
	manifests     map[string]*manifestSet
}

// manifestSet holds the rendered manifests of one presentation. Manifest
// output is deterministic, so rendering once at startup pins the bytes
// clients see.
type manifestSet struct {
	mpd      []byte
	master   []byte            // nil for presentations HLS cannot express
	variants map[string][]byte // keyed by representation ID; nil alongside master
}

func New(cfg v1alpha1.App) (app.App, error) {
	if err := app.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if len(cfg.VODServe.BucketRefs) == 0 {
		return nil, errors.New("vodserve.New: bucketRefs is missing")
	}
	buckets := make(map[string]bool, len(cfg.VODServe.BucketRefs))
	for _, bRef := range cfg.VODServe.BucketRefs {
		if bRef.Name == "" {
			return nil, errors.New("vodserve.New: some bucketRefs have no name")
		}
		buckets[bRef.Name] = true
	}
	if cfg.VODServe.MetadataSuffix == "" {
		cfg.VODServe.MetadataSuffix = DefaultConfig.MetadataSuffix
	}
	if cfg.VODServe.ChunkDuration <= 0 {
		cfg.VODServe.ChunkDuration = DefaultConfig.ChunkDuration
	}
	if cfg.VODServe.MaxMetadataSize <= 0 {
		cfg.VODServe.MaxMetadataSize = DefaultConfig.MaxMetadataSize
	}

	seen := make(map[string]bool, len(cfg.VODServe.Presentations))
	for _, pcfg := range cfg.VODServe.Presentations {
		if !media.PresentationNameRegex.MatchString(pcfg.Name) {
			return nil, fmt.Errorf("vodserve.New: unsupported presentation name '%s'", pcfg.Name)
		}
		if pcfg.Name == "dash_manifest" || pcfg.Name == "dash_stream" {
			return nil, fmt.Errorf("vodserve.New: presentation name '%s' is reserved", pcfg.Name)
		}
		if seen[pcfg.Name] {
			return nil, fmt.Errorf("vodserve.New: duplicate presentation '%s'", pcfg.Name)
		}
		seen[pcfg.Name] = true

		for _, rcfg := range pcfg.Representations {
			if !media.RepresentationIDRegex.MatchString(rcfg.ID) {
				return nil, fmt.Errorf("vodserve.New: presentation '%s': unsupported representation ID '%s'", pcfg.Name, rcfg.ID)
			}
			for _, tcfg := range rcfg.Tracks {
				if !buckets[tcfg.BucketRef.Name] {
					return nil, fmt.Errorf("vodserve.New: presentation '%s': bucketRef '%s' not in bucketRefs", pcfg.Name, tcfg.BucketRef.Name)
				}
				if tcfg.Key == "" {
					return nil, fmt.Errorf("vodserve.New: presentation '%s': track request without key", pcfg.Name)
				}
			}
		}
	}

	return &vodServe{
		cfg:         cfg,
		buckets:     buckets,
		eventStream: event.NewStream(),
	}, nil
}

func (a *vodServe) Config() v1alpha1.App {
	return a.cfg
}

func (a *vodServe) HTTPConfig() *v1alpha1.HTTPApp {
	return a.cfg.HTTP
}

func (a *vodServe) EventStream() event.Stream {
	return a.eventStream
}

func (a *vodServe) SetCtx(ctx context.Context) {
	a.ctx = ctx
	a.eventStream.Start(ctx)
}

func (a *vodServe) SetExecCtx(execCtx app.ExecCtx) {
	a.execCtx = execCtx
	a.store = blob.NewStore(execCtx.BucketResolver())
	a.cache = cache.New(a.cfg.VODServe.Cache.MaxEntries, a.cfg.VODServe.Cache.TTL, a.loadMetadata)
	a.buildPresentations()
}

// Presentations returns the successfully built presentations in name order.
func (a *vodServe) Presentations() []*media.Presentation {
	names := make([]string, 0, len(a.presentations))
	for name := range a.presentations {
		names = append(names, name)
	}
	sort.Strings(names)

	ps := make([]*media.Presentation, 0, len(names))
	for _, name := range names {
		ps = append(ps, a.presentations[name])
	}
	return ps
}

func (a *vodServe) RegisterHTTPRoutes(router router.Router, handleOptions bool) error {
	// single asset routes must be registered before the presentation routes
	router.
		Get("/dash_manifest/:bucket/+", a.handleDashManifest).
		Get("/dash_stream/:bucket/+", a.handleDashStream).
		Get("/:presentation/manifest.mpd", a.handleManifest).
		Get("/:presentation/master.m3u8", a.handleMaster).
		Get("/:presentation/playlist/:representation", a.handleVariant).
		Get("/:presentation/init/:representation", a.handleInit).
		Get("/:presentation/play/:representation/:number", a.handlePlay)

	if handleOptions { // preflight requests
		router.
			Options("/dash_manifest/:bucket/+", http.NoContentHandler).
			Options("/dash_stream/:bucket/+", http.NoContentHandler).
			Options("/:presentation/+", http.NoContentHandler)
	}

	return nil
}

// loadMetadata is the cache loader: one bounded read of the side-car blob.
func (a *vodServe) loadMetadata(_ context.Context, bucket, key string) (*media.Media, error) {
	data, err := a.store.ReadAll(bucket, key, int64(a.cfg.VODServe.MaxMetadataSize))
	if err != nil {
		return nil, err
	}
	return media.DecodeMetadata(bytes.NewReader(data))
}

// metadata loads the media descriptor of the asset at bucket/key through the
// cache.
func (a *vodServe) metadata(ctx context.Context, bucket, key string) (*media.Media, error) {
	return a.cache.Get(ctx, bucket, key+a.cfg.VODServe.MetadataSuffix)
}

func (a *vodServe) buildPresentations() {
	log := a.execCtx.Logger()

	a.presentations = make(map[string]*media.Presentation, len(a.cfg.VODServe.Presentations))
	a.manifests = make(map[string]*manifestSet, len(a.cfg.VODServe.Presentations))

	for _, pcfg := range a.cfg.VODServe.Presentations {
		p, err := media.NewPresentation(a.ctx, pcfg, a.cfg.VODServe.ChunkDuration, a.metadata)
		if err != nil {
			log.With("error", err).Errorf("failed to build presentation '%s'; skipping", pcfg.Name)
			continue
		}

		ms := &manifestSet{}

		buf := &bytes.Buffer{}
		if err = dash.NewMPD(p).Write(buf); err != nil {
			log.With("error", err).Errorf("failed to render MPD of presentation '%s'; skipping", pcfg.Name)
			continue
		}
		ms.mpd = buf.Bytes()

		buf = &bytes.Buffer{}
		if err = hls.WriteMaster(buf, p); err != nil {
			log.With("error", err).Warnf("no HLS playlists for presentation '%s'", pcfg.Name)
		} else {
			ms.master = buf.Bytes()
			ms.variants = make(map[string][]byte)
			for _, r := range p.SortedRepresentations() {
				buf = &bytes.Buffer{}
				if err = hls.WriteVariant(buf, p, r); err != nil {
					log.With("error", err).Warnf("no HLS playlist for representation '%s/%s'", pcfg.Name, r.ID)
					continue
				}
				ms.variants[r.ID] = buf.Bytes()
			}
		}

		a.presentations[p.Name] = p
		a.manifests[p.Name] = ms

		e := event.NewPresentationEvent(event.PresentationReadyEvent, p.Name)
		a.eventStream.Pub(e)
		log.Infof("presentation '%s' ready", p.Name)
	}
}

func (a *vodServe) handleDashManifest(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	bucket := c.Params("bucket")
	if !a.buckets[bucket] {
		return fiber.ErrNotFound
	}
	key := path.Join("/", c.Params("+")) // Join will also clean path

	data, err := a.store.ReadAll(bucket, key, 0)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) || errors.Is(err, blob.ErrUnknownBucket) {
			return fiber.ErrNotFound
		}
		log.With("error", err).Errorf("failed to read manifest '%s/%s'", bucket, key)
		return fiber.ErrInternalServerError
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.ApplicationDASH_XML)
	return c.Send(data)
}

func (a *vodServe) handleDashStream(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	bucket := c.Params("bucket")
	if !a.buckets[bucket] {
		return fiber.ErrNotFound
	}
	key := path.Join("/", c.Params("+")) // Join will also clean path

	m, err := a.metadata(c.Context(), bucket, key)
	if err != nil {
		switch {
		case errors.Is(err, blob.ErrNotExist), errors.Is(err, blob.ErrUnknownBucket):
			return fiber.ErrNotFound
		case errors.Is(err, media.ErrMalformedMetadata):
			log.With("error", err).Errorf("malformed metadata for '%s/%s'", bucket, key)
			return fiber.ErrInternalServerError
		default:
			log.With("error", err).Errorf("failed to load metadata for '%s/%s'", bucket, key)
			return fiber.ErrInternalServerError
		}
	}

	tr, err := m.Track(uint32(c.QueryInt("track", 1)))
	if err != nil {
		return fiber.ErrNotFound
	}

	if c.QueryBool("init") {
		return a.sendInit(c, tr)
	}

	q := c.Query("time")
	if q == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing init or time query parameter")
	}
	tSec, err := strconv.ParseUint(q, 10, 32)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed time query parameter")
	}

	chunkSec := uint64(a.cfg.VODServe.ChunkDuration.Seconds())
	if q := c.QueryInt("chunk"); q > 0 {
		chunkSec = uint64(q)
	}

	ts := uint64(tr.Timescale)
	return a.sendSegment(c, tr, bucket, key, tSec*ts, (tSec+chunkSec)*ts, tSec/chunkSec)
}

func (a *vodServe) handleManifest(c *fiber.Ctx) error {
	p, err := a.presentation(c)
	if err != nil {
		return err
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.ApplicationDASH_XML)
	return c.Send(a.manifests[p.Name].mpd)
}

func (a *vodServe) handleMaster(c *fiber.Ctx) error {
	p, err := a.presentation(c)
	if err != nil {
		return err
	}
	ms := a.manifests[p.Name]
	if ms.master == nil {
		return fiber.NewError(fiber.StatusInternalServerError, "presentation cannot be expressed as HLS")
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.ApplicationVndAppleMPEGURL)
	return c.Send(ms.master)
}

func (a *vodServe) handleVariant(c *fiber.Ctx) error {
	p, err := a.presentation(c)
	if err != nil {
		return err
	}
	r, err := a.representation(c, p)
	if err != nil {
		return err
	}
	ms := a.manifests[p.Name]
	if ms.variants == nil {
		return fiber.NewError(fiber.StatusInternalServerError, "presentation cannot be expressed as HLS")
	}
	v, ok := ms.variants[r.ID]
	if !ok {
		return fiber.ErrNotFound
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.ApplicationVndAppleMPEGURL)
	return c.Send(v)
}

func (a *vodServe) handleInit(c *fiber.Ctx) error {
	p, err := a.presentation(c)
	if err != nil {
		return err
	}
	r, err := a.representation(c, p)
	if err != nil {
		return err
	}
	tr := r.PrimaryTrack()
	if tr == nil {
		return fiber.ErrNotFound
	}

	return a.sendInit(c, tr)
}

func (a *vodServe) handlePlay(c *fiber.Ctx) error {
	p, err := a.presentation(c)
	if err != nil {
		return err
	}
	r, err := a.representation(c, p)
	if err != nil {
		return err
	}
	number, err := strconv.ParseUint(c.Params("number"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed segment number")
	}

	tr, src, local, err := r.TrackForSegment(number, p.ChunkDuration)
	if err != nil {
		return fiber.ErrNotFound
	}
	dtsStart, dtsEnd := tr.SegmentWindow(local, p.ChunkDuration)

	if err = a.sendSegment(c, tr, src.Bucket, src.Key, dtsStart, dtsEnd, number); err != nil {
		return err
	}

	e := event.NewSegmentEvent(event.SegmentServedEvent, p.Name, r.ID, number)
	a.eventStream.Pub(e)
	return nil
}

func (a *vodServe) sendInit(c *fiber.Ctx, tr *media.Track) error {
	log := a.execCtx.Logger()

	sw, err := mp4.NewSegmentWriter(tr)
	if err != nil {
		log.With("error", err).Errorf("no segment writer for codec '%s'", tr.Codec)
		return fiber.ErrInternalServerError
	}

	buf := &bytes.Buffer{}
	if err = sw.WriteInit(buf); err != nil {
		log.With("error", err).Error("failed to write init segment")
		return fiber.ErrInternalServerError
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.VideoMP4)
	return c.Send(buf.Bytes())
}

// sendSegment slices the samples of [dtsStart, dtsEnd) out of the asset at
// bucket/key and streams them as one media segment. number seeds the moof
// sequence numbers.
func (a *vodServe) sendSegment(c *fiber.Ctx, tr *media.Track, bucket, key string, dtsStart, dtsEnd, number uint64) error {
	log := a.execCtx.Logger()

	posStart, err := tr.SamplePositionForStart(dtsStart)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "time outside sample range")
	}
	posEnd := tr.SamplePositionForEnd(dtsEnd - 1)

	off, length := tr.ByteRange(posStart, posEnd)
	data, err := a.store.ReadRange(bucket, key, off, length)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) || errors.Is(err, blob.ErrUnknownBucket) {
			return fiber.ErrNotFound
		}
		log.With("error", err).Errorf("failed to read sample range of '%s/%s'", bucket, key)
		return fiber.ErrInternalServerError
	}

	sw, err := mp4.NewSegmentWriter(tr)
	if err != nil {
		log.With("error", err).Errorf("no segment writer for codec '%s'", tr.Codec)
		return fiber.ErrInternalServerError
	}

	buf := &bytes.Buffer{}
	err = sw.WriteSegment(buf, mp4.SegmentOptions{
		PosStart:         posStart,
		PosEnd:           posEnd,
		DTSStartAbsolute: dtsStart,
		FragmentDuration: fragmentTicks(a.cfg.VODServe.FragmentDuration, tr.Timescale),
		SequenceNumber:   uint32(number) + 1,
		SampleData:       data,
	})
	if err != nil {
		if errors.Is(err, mp4.ErrEmptySampleRange) {
			return fiber.NewError(fiber.StatusBadRequest, "time outside sample range")
		}
		log.With("error", err).Errorf("failed to write segment of '%s/%s'", bucket, key)
		return fiber.ErrInternalServerError
	}

	a.setCORS(c)
	c.Response().Header.SetContentType(mime.VideoISOSegment)
	return c.Send(buf.Bytes())
}

// presentation resolves the presentation path parameter.
func (a *vodServe) presentation(c *fiber.Ctx) (*media.Presentation, error) {
	name := c.Params("presentation")
	if !media.PresentationNameRegex.MatchString(name) {
		return nil, http.ErrUnsupportedPresentationName
	}
	p, ok := a.presentations[name]
	if !ok {
		return nil, fiber.ErrNotFound
	}
	return p, nil
}

// representation resolves the representation path parameter within p.
func (a *vodServe) representation(c *fiber.Ctx, p *media.Presentation) (*media.Representation, error) {
	id := c.Params("representation")
	if !media.RepresentationIDRegex.MatchString(id) {
		return nil, http.ErrUnsupportedRepresentationName
	}
	r, err := p.Representation(id)
	if err != nil {
		return nil, fiber.ErrNotFound
	}
	return r, nil
}

// setCORS opens responses up for cross origin playback. Web players fetch
// manifests and segments from pages served elsewhere, so without a configured
// CORS policy every response is marked as usable by any origin. A configured
// policy is enforced by the server middleware instead.
func (a *vodServe) setCORS(c *fiber.Ctx) {
	if a.cfg.HTTP != nil && a.cfg.HTTP.CORS != nil {
		return
	}
	c.Set(fiber.HeaderAccessControlAllowOrigin, "*")
	c.Set(fiber.HeaderAccessControlAllowCredentials, "true")
}

func fragmentTicks(d time.Duration, timescale uint32) uint64 {
	return uint64(d.Seconds() * float64(timescale))
}
