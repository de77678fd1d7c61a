/*
Copyright 2022-2024 The nagare media authors

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

package replicate

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/nagare-media/vod/internal/pool"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/function"
	"github.com/nagare-media/vod/pkg/volume"
)

// replicate copies committed files into another volume, e.g. from a memory
// scratch volume into a file system origin.
type replicate struct {
	cfg v1alpha1.Function
}

func New(cfg v1alpha1.Function) (function.Function, error) {
	if err := function.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}

	return &replicate{cfg: cfg}, nil
}

func (fn *replicate) Config() v1alpha1.Function {
	return fn.cfg
}

func (fn *replicate) Exec(ctx context.Context, execCtx function.ExecCtx) error {
	vol, ok := execCtx.VolumeRegistry().Get(fn.cfg.Replicate.VolumeRef.Name)
	if !ok {
		return fmt.Errorf("volume '%s' not found", fn.cfg.Replicate.VolumeRef.Name)
	}

	cp := &copier{
		log:   execCtx.Logger(),
		store: blob.NewStore(execCtx.BucketResolver()),
		dst:   vol,
	}

	events := execCtx.App().EventStream().Sub()
	defer execCtx.App().EventStream().Desub(events)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-events:
			fe, ok := e.(*event.FileEvent)
			if !ok || fe.Type != event.FileCommittedEvent {
				continue
			}
			go cp.replicate(fe.Bucket, fe.Key)
		}
	}
}

type copier struct {
	log   *zap.SugaredLogger
	store *blob.Store
	dst   volume.Volume
}

func (cp *copier) replicate(bucket, key string) {
	fr, err := cp.store.Reader(bucket, key)
	if err != nil {
		cp.log.With("error", err).Errorf("failed to acquire file reader: '%s/%s'", bucket, key)
		return
	}
	defer fr.Close()

	f, err := cp.dst.OpenCreate(key)
	if err != nil {
		cp.log.With("error", err).Errorf("failed to open file: '%s'", key)
		return
	}

	fw, err := f.AcquireWriter()
	if err != nil {
		cp.log.With("error", err).Errorf("failed to acquire file writer: '%s'", key)
		return
	}

	if err = copyAll(fw, fr); err != nil {
		cp.log.With("error", err).Errorf("failed to copy file: '%s'", key)
		if err = fw.Abort(); err != nil {
			cp.log.With("error", err).Errorf("failed to abort file: '%s'", key)
		}
		return
	}

	if err = fw.Commit(); err != nil {
		cp.log.With("error", err).Errorf("failed to commit file: '%s'", key)
	}
}

func copyAll(dst io.Writer, src io.Reader) error {
	buf := pool.CopyBuf.Get().([]byte)
	defer pool.CopyBuf.Put(buf) // nolint

	_, err := io.CopyBuffer(dst, src, buf)
	return err
}
