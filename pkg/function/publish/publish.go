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

package publish

import (
	"context"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/function"
	"github.com/nagare-media/vod/pkg/media"
	"github.com/nagare-media/vod/pkg/media/dash"
	"github.com/nagare-media/vod/pkg/media/hls"
	"github.com/nagare-media/vod/pkg/volume"
)

// presentationSource is implemented by apps that build presentations.
type presentationSource interface {
	Presentations() []*media.Presentation
}

// publish writes the manifests of ready presentations as plain files into a
// volume. A file server in front of that volume can then serve the
// presentation without going through the manifest handlers.
type publish struct {
	cfg v1alpha1.Function
}

func New(cfg v1alpha1.Function) (function.Function, error) {
	if err := function.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}

	fn := &publish{
		cfg: cfg,
	}

	return fn, nil
}

func (fn *publish) Config() v1alpha1.Function {
	return fn.cfg
}

func (fn *publish) Exec(ctx context.Context, execCtx function.ExecCtx) error {
	vol, ok := execCtx.VolumeRegistry().Get(fn.cfg.Publish.VolumeRef.Name)
	if !ok {
		return fmt.Errorf("volume '%s' not found", fn.cfg.Publish.VolumeRef.Name)
	}

	mw := &manifestWriter{
		log:    execCtx.Logger(),
		vol:    vol,
		prefix: execCtx.PathPrefix(),
	}
	src, _ := execCtx.App().(presentationSource)

	events := execCtx.App().EventStream().Sub()
	defer execCtx.App().EventStream().Desub(events)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-events:
			pe, ok := e.(*event.PresentationEvent)
			if !ok || pe.Type != event.PresentationReadyEvent {
				continue
			}
			if src == nil {
				mw.log.Errorf("app does not build presentations; cannot publish '%s'", pe.Presentation)
				continue
			}
			p := findPresentation(src.Presentations(), pe.Presentation)
			if p == nil {
				mw.log.Errorf("failed to find presentation '%s'", pe.Presentation)
				continue
			}
			mw.publishPresentation(p)
		}
	}
}

func findPresentation(pres []*media.Presentation, name string) *media.Presentation {
	for _, p := range pres {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// manifestWriter renders presentation manifests into the publish volume.
type manifestWriter struct {
	log    *zap.SugaredLogger
	vol    volume.Volume
	prefix string
}

func (mw *manifestWriter) publishPresentation(p *media.Presentation) {
	mw.renderFile(path.Join("/", mw.prefix, p.Name, "manifest.mpd"), func(w io.Writer) error {
		return dash.NewMPD(p).Write(w)
	})

	err := mw.renderFile(path.Join("/", mw.prefix, p.Name, "master.m3u8"), func(w io.Writer) error {
		return hls.WriteMaster(w, p)
	})
	if err != nil {
		mw.log.With("error", err).Warnf("no HLS playlists for presentation '%s'", p.Name)
		return
	}

	for _, r := range p.SortedRepresentations() {
		err = mw.renderFile(path.Join("/", mw.prefix, p.Name, "playlist", r.ID), func(w io.Writer) error {
			return hls.WriteVariant(w, p, r)
		})
		if err != nil {
			mw.log.With("error", err).Warnf("no HLS playlist for representation '%s/%s'", p.Name, r.ID)
		}
	}
}

// renderFile runs render into filePath. The file only becomes visible if
// rendering succeeds.
func (mw *manifestWriter) renderFile(filePath string, render func(w io.Writer) error) error {
	file, err := mw.vol.OpenCreate(filePath)
	if err != nil {
		mw.log.With("error", err).Errorf("failed to open manifest file: '%s'", filePath)
		return err
	}

	fw, err := file.AcquireWriter()
	if err != nil {
		mw.log.With("error", err).Errorf("failed to acquire writer for manifest file: '%s'", filePath)
		return err
	}

	if err = render(fw); err != nil {
		if abortErr := fw.Abort(); abortErr != nil {
			mw.log.With("error", abortErr).Errorf("failed to abort manifest file: '%s'", filePath)
		}
		return err
	}

	if err = fw.Commit(); err != nil {
		mw.log.With("error", err).Errorf("failed to commit manifest file: '%s'", filePath)
		return err
	}

	return nil
}
