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
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/gofiber/fiber/v2"
	"github.com/inhies/go-bytesize"

	"github.com/nagare-media/vod/internal/pool"
	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/http"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/media/mp4"
)

var DefaultConfig = v1alpha1.MediaIngest{
	MetadataSuffix:     ".meta",
	MaxHeaderSize:      10 * bytesize.MB,
	MaxChunkHeaderSize: 1 * bytesize.MB,
	MaxChunkMdatSize:   100 * bytesize.MB,
}

// mediaIngest accepts fragmented MP4 uploads. The asset bytes are stored
// under the upload path while the boxes stream through a CMAF style parse
// that accumulates the sample table. On commit the side-car metadata is
// written next to the asset so that the VOD engine can address samples
// without touching the MP4 again.
type mediaIngest struct {
	cfg         v1alpha1.App
	eventStream event.Stream
	ctx         context.Context
	execCtx     app.ExecCtx

	store *blob.Store

	auxBoxPool sync.Pool
}

func New(cfg v1alpha1.App) (app.App, error) {
	if err := app.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.MediaIngest.BucketRef.Name == "" {
		return nil, errors.New("mediaingest.New: bucketRef is missing")
	}
	if cfg.MediaIngest.MetadataSuffix == "" {
		cfg.MediaIngest.MetadataSuffix = DefaultConfig.MetadataSuffix
	}

	for _, d := range []struct {
		size *bytesize.ByteSize
		def  bytesize.ByteSize
	}{
		{&cfg.MediaIngest.MaxHeaderSize, DefaultConfig.MaxHeaderSize},
		{&cfg.MediaIngest.MaxChunkHeaderSize, DefaultConfig.MaxChunkHeaderSize},
		{&cfg.MediaIngest.MaxChunkMdatSize, DefaultConfig.MaxChunkMdatSize},
	} {
		if *d.size <= 0 {
			*d.size = d.def
		}
	}

	a := &mediaIngest{
		cfg:         cfg,
		eventStream: event.NewStream(),
		auxBoxPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, cfg.MediaIngest.MaxChunkHeaderSize)
			},
		},
	}

	return a, nil
}

func (a *mediaIngest) Config() v1alpha1.App {
	return a.cfg
}

func (a *mediaIngest) HTTPConfig() *v1alpha1.HTTPApp {
	return a.cfg.HTTP
}

func (a *mediaIngest) EventStream() event.Stream {
	return a.eventStream
}

func (a *mediaIngest) SetCtx(ctx context.Context) {
	a.ctx = ctx
	a.eventStream.Start(ctx)
}

func (a *mediaIngest) SetExecCtx(execCtx app.ExecCtx) {
	a.execCtx = execCtx
	a.store = blob.NewStore(execCtx.BucketResolver())
}

func (a *mediaIngest) RegisterHTTPRoutes(router router.Router, handleOptions bool) error {
	router.
		Post("/+", a.handleUpload).
		Put("/+", a.handleUpload)

	if handleOptions { // preflight requests
		router.
			Options("/+", http.NoContentHandler)
	}

	return nil
}

func (a *mediaIngest) handleUpload(c *fiber.Ctx) error {
	log := a.execCtx.Logger()

	key := path.Join("/", c.Params("+")) // Join will also clean path
	if !http.UploadPathRegex.MatchString(key) {
		return http.ErrUnsupportedUploadPath
	}

	// an upload can only be a fragmented MP4 (= CMAF header followed by CMAF
	// fragments)
	if !c.Request().IsBodyStream() {
		return http.ErrNotAFileStream
	}

	bucket := a.cfg.MediaIngest.BucketRef.Name
	fw, err := a.store.Writer(bucket, key)
	if err != nil {
		if errors.Is(err, blob.ErrInvalidKey) {
			return http.ErrUnsupportedUploadPath
		}
		log.With("error", err).Error("failed to open asset for writing")
		return fiber.ErrInternalServerError
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileStartEvent, bucket, key, 0))

	out := &countingWriter{w: fw}
	track, err := a.ingest(c.Context().RequestBodyStream(), out)
	if err != nil {
		if abortErr := fw.Abort(); abortErr != nil {
			log.With("error", abortErr).Error("failed to abort asset")
		}
		a.eventStream.Pub(event.NewFileEvent(event.FileAbortedEvent, bucket, key, out.n))
		err = convertIngestErr(err)
		if errors.Is(err, fiber.ErrInternalServerError) {
			log.With("error", err).Error("failed to ingest asset")
		}
		return err
	}

	finalizeTrack(track, out.n)

	if err = fw.Commit(); err != nil {
		a.eventStream.Pub(event.NewFileEvent(event.FileAbortedEvent, bucket, key, out.n))
		log.With("error", err).Error("failed to commit asset")
		return fiber.ErrInternalServerError
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileCommittedEvent, bucket, key, out.n))

	m := &media.Media{Tracks: []media.Track{*track}}
	if err = a.writeMetadata(key, m); err != nil {
		if errors.Is(err, media.ErrMalformedMetadata) {
			return fiber.ErrUnsupportedMediaType
		}
		log.With("error", err).Error("failed to write asset metadata")
		return fiber.ErrInternalServerError
	}

	a.eventStream.Pub(event.NewAssetEvent(event.AssetIngestedEvent, bucket, key, m))

	c.Status(fiber.StatusCreated)
	return nil
}

// ingest runs one upload through the CMAF parse. The asset bytes stream
// through to out as they are read.
func (a *mediaIngest) ingest(src io.Reader, out *countingWriter) (*media.Track, error) {
	in := &ingestStream{
		cfg:     a.cfg.MediaIngest,
		src:     src,
		lr:      &io.LimitedReader{R: src, N: int64(a.cfg.MediaIngest.MaxHeaderSize)},
		out:     out,
		auxBuf:  a.auxBoxPool.Get().([]byte),
		copyBuf: pool.CopyBuf.Get().([]byte),
	}
	defer a.auxBoxPool.Put(in.auxBuf)  // nolint
	defer pool.CopyBuf.Put(in.copyBuf) // nolint

	if err := in.readInit(); err != nil {
		return nil, err
	}
	if err := in.readFragments(); err != nil {
		return nil, err
	}
	return in.track, nil
}

// ingestStream holds the parse state of a single upload.
type ingestStream struct {
	cfg *v1alpha1.MediaIngest
	src io.Reader         // raw request body
	lr  *io.LimitedReader // src bounded for the current parse phase
	out *countingWriter
	hdr mp4ff.BoxHeader

	track *media.Track
	trex  *mp4ff.TrexBox

	auxBuf  []byte // small boxes held back until the next moof
	auxSize int
	copyBuf []byte
}

// readInit consumes the CMAF header (ftyp + moov), extracts the track
// description and writes the header boxes to the asset.
func (in *ingestStream) readInit() error {
	initSeg := mp4ff.NewMP4Init()

	for _, step := range []struct {
		name   string
		decode func(mp4ff.BoxHeader, uint64, io.Reader) (mp4ff.Box, error)
	}{
		{mp4.FtypBoxStr, mp4ff.DecodeFtyp},
		{mp4.MoovBoxStr, mp4ff.DecodeMoov},
	} {
		if err := mp4.DecodeHeader(&in.hdr, in.lr); err != nil {
			if errors.Is(err, io.EOF) {
				return mp4.ErrNotACMAFHeader
			}
			return err
		}
		if in.hdr.Name != step.name {
			return mp4.ErrNotACMAFHeader
		}
		box, err := step.decode(in.hdr, 0, in.lr)
		if err != nil {
			return fmt.Errorf("%w: %s", mp4.ErrNotACMAFHeader, err)
		}
		initSeg.AddChild(box)
	}

	track, err := mp4.TrackFromMoov(initSeg.Moov)
	if err != nil {
		return err
	}
	if err = initSeg.Encode(in.out); err != nil {
		return err
	}

	in.track = track
	in.trex = initSeg.Moov.Mvex.Trex
	return nil
}

// readFragments consumes the CMAF fragment stream until EOF. Small boxes in
// front of a fragment (styp, prft, ...) are held back and written together
// with the following moof; the mdat payload streams through the copy buffer.
func (in *ingestStream) readFragments() error {
	for {
		in.lr.N = int64(in.cfg.MaxChunkHeaderSize)

		err := mp4.DecodeHeader(&in.hdr, in.lr)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// end of upload; trailing boxes (e.g. mfra) are part of the asset
				return in.flushAux()
			}
			return err
		}

		switch in.hdr.Name {
		case mp4.StypBoxStr, mp4.PrftBoxStr, mp4.EmsgBoxStr, mp4.SidxBoxStr, mp4.FreeBoxStr, mp4.SkipBoxStr, mp4.MfraBoxStr:
			err = in.bufferAuxBox()
		case mp4.MoofBoxStr:
			err = in.readFragment()
		default:
			err = mp4.ErrNotACMAFChunk
		}
		if err != nil {
			return err
		}
	}
}

// bufferAuxBox stashes the current small box so it can be written together
// with the following moof.
func (in *ingestStream) bufferAuxBox() error {
	if in.hdr.Size >= 1<<32 {
		// box sizes of this class always fit 32 bit
		return mp4.ErrNotACMAFChunk
	}

	n, err := mp4.EncodeHeader(&in.hdr, in.auxBuf[in.auxSize:])
	if err != nil {
		return err
	}
	in.auxSize += n

	bodyLen := int(in.hdr.Size) - in.hdr.Hdrlen
	if bodyLen <= 0 {
		return nil
	}
	if in.auxSize+bodyLen > len(in.auxBuf) {
		return io.ErrShortBuffer
	}
	if _, err = io.ReadFull(in.lr, in.auxBuf[in.auxSize:in.auxSize+bodyLen]); err != nil {
		return err
	}
	in.auxSize += bodyLen

	return nil
}

// flushAux writes the held back boxes to the asset.
func (in *ingestStream) flushAux() error {
	if in.auxSize == 0 {
		return nil
	}
	_, err := in.out.Write(in.auxBuf[:in.auxSize])
	in.auxSize = 0
	return err
}

// readFragment writes any held back boxes, the moof and the mdat payload to
// the asset and resolves the fragment's samples against the positions the
// bytes end up at in the stored asset.
func (in *ingestStream) readFragment() error {
	moofSize := in.hdr.Size
	box, err := mp4ff.DecodeMoof(in.hdr, 0, in.lr)
	if err != nil {
		return fmt.Errorf("%w: %s", mp4.ErrNotACMAFChunk, err)
	}
	moof := box.(*mp4ff.MoofBox)
	if err = mp4.CheckMoofCMAF(moof); err != nil {
		return err
	}

	if err = in.flushAux(); err != nil {
		return err
	}
	if err = moof.Encode(in.out); err != nil {
		return err
	}

	// the mdat must follow; its header is read from the raw reader as the
	// payload is not bounded by the chunk header limit
	if err = mp4.DecodeHeader(&in.hdr, in.src); err != nil {
		return err
	}
	if in.hdr.Name != mp4.MdatBoxStr {
		return mp4.ErrNotACMAFChunk
	}
	bodyLen := in.hdr.Size - uint64(in.hdr.Hdrlen)
	if bodyLen > uint64(in.cfg.MaxChunkMdatSize) {
		return io.ErrUnexpectedEOF
	}
	n, err := mp4.EncodeHeader(&in.hdr, in.auxBuf)
	if err != nil {
		return err
	}
	if _, err = in.out.Write(in.auxBuf[:n]); err != nil {
		return err
	}

	// samples start at the stored mdat payload unless the trun points deeper
	// in
	payloadStart := in.out.n
	dataStart := payloadStart
	if trun := moof.Traf.Trun; trun.HasDataOffset() {
		skew := int64(trun.DataOffset) - int64(moofSize) - int64(in.hdr.Hdrlen)
		if skew < 0 || uint64(skew) > bodyLen {
			return mp4.ErrNotACMAFChunk
		}
		dataStart += uint64(skew)
	}

	samples, payloadLen, err := mp4.FragmentSamples(moof, in.trex, dataStart)
	if err != nil {
		return err
	}
	if dataStart-payloadStart+payloadLen > bodyLen {
		return mp4.ErrNotACMAFChunk
	}

	in.lr.N = int64(bodyLen)
	nMdat, err := io.CopyBuffer(in.out, in.lr, in.copyBuf)
	if err != nil {
		return err
	}
	if uint64(nMdat) != bodyLen {
		return io.ErrUnexpectedEOF
	}

	in.track.Samples = append(in.track.Samples, samples...)
	return nil
}

// finalizeTrack derives duration, bandwidth and frame rate from the
// accumulated sample table.
func finalizeTrack(track *media.Track, assetSize uint64) {
	if len(track.Samples) == 0 {
		return
	}

	first := track.Samples[0]
	last := track.Samples[len(track.Samples)-1]
	track.Duration = last.DTS + uint64(last.Duration) - first.DTS

	if track.Duration > 0 {
		track.Bandwidth = assetSize * 8 * uint64(track.Timescale) / track.Duration
	}

	if track.Video != nil && track.Video.FPSNum == 0 && first.Duration > 0 {
		track.Video.FPSNum = track.Timescale
		track.Video.FPSDenum = first.Duration
	}
}

// writeMetadata encodes and commits the side-car object next to the asset.
func (a *mediaIngest) writeMetadata(key string, m *media.Media) error {
	buf := &bytes.Buffer{}
	if err := media.EncodeMetadata(buf, m); err != nil {
		return err
	}

	bucket := a.cfg.MediaIngest.BucketRef.Name
	metaKey := key + a.cfg.MediaIngest.MetadataSuffix

	fw, err := a.store.Writer(bucket, metaKey)
	if err != nil {
		return err
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileStartEvent, bucket, metaKey, 0))

	size := uint64(buf.Len())
	if _, err = fw.Write(buf.Bytes()); err == nil {
		err = fw.Commit()
	}
	if err != nil {
		if abortErr := fw.Abort(); abortErr != nil {
			a.execCtx.Logger().With("error", abortErr).Error("failed to abort asset metadata")
		}
		a.eventStream.Pub(event.NewFileEvent(event.FileAbortedEvent, bucket, metaKey, 0))
		return err
	}
	a.eventStream.Pub(event.NewFileEvent(event.FileCommittedEvent, bucket, metaKey, size))

	return nil
}

func convertIngestErr(err error) error {
	switch {
	case err == nil,
		errors.Is(err, io.EOF):
		return nil
	case errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrShortBuffer):
		return fiber.ErrRequestEntityTooLarge
	case errors.Is(err, mp4.ErrNotACMAFHeader),
		errors.Is(err, mp4.ErrNotACMAFChunk),
		errors.Is(err, mp4.ErrNotACMAFFragment),
		errors.Is(err, mp4.ErrCodecUnsupported):
		return fiber.ErrUnsupportedMediaType
	default:
		return fiber.ErrInternalServerError
	}
}

// countingWriter tracks the byte position within the stored asset.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}
