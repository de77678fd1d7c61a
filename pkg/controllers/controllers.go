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

package controllers

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/blob"
	"github.com/nagare-media/vod/pkg/function"
	"github.com/nagare-media/vod/pkg/server"
	"github.com/nagare-media/vod/pkg/volume"
)

type Controller interface {
	Exec(ctx context.Context, execCtx *ExecCtx) error
}

type ControllerFunc func(ctx context.Context, execCtx *ExecCtx) error

func (f ControllerFunc) Exec(ctx context.Context, execCtx *ExecCtx) error {
	return f(ctx, execCtx)
}

// ExecCtx carries the capabilities a controller hands down to its children.
// It is immutable; the With methods derive extended copies.
type ExecCtx struct {
	log          *zap.SugaredLogger
	vodCtrl      *vodController
	serverCtrl   *serverController
	appCtrl      *appController
	functionCtrl *functionController
}

func (c *ExecCtx) Logger() *zap.SugaredLogger        { return c.log }
func (c *ExecCtx) VODCtrl() *vodController           { return c.vodCtrl }
func (c *ExecCtx) ServerCtrl() *serverController     { return c.serverCtrl }
func (c *ExecCtx) AppCtrl() *appController           { return c.appCtrl }
func (c *ExecCtx) FunctionCtrl() *functionController { return c.functionCtrl }

func (c *ExecCtx) Server() server.Server {
	if c.serverCtrl == nil {
		return nil
	}
	return c.serverCtrl.Server()
}

func (c *ExecCtx) App() app.App {
	if c.appCtrl == nil {
		return nil
	}
	return c.appCtrl.App()
}

func (c *ExecCtx) Function() function.Function {
	if c.functionCtrl == nil {
		return nil
	}
	return c.functionCtrl.Function()
}

// PathPrefix builds the URL prefix for the current server and app scope.
// Trailing segments can be swapped out through override, e.g. to mount a
// sibling app's routes.
func (c *ExecCtx) PathPrefix(override ...string) string {
	seg := make([]string, 0, 2)
	if c.serverCtrl != nil {
		seg = append(seg, c.serverCtrl.server.Config().Name)
	}
	if c.appCtrl != nil {
		seg = append(seg, c.appCtrl.app.Config().Name)
	}

	if n := len(override); n > 0 {
		if len(seg) <= n {
			seg = override
		} else {
			seg = append(seg[:len(seg)-n], override...)
		}
	}

	return path.Clean("/" + path.Join(seg...))
}

func (c *ExecCtx) VolumeRegistry() volume.Registry {
	if c.vodCtrl == nil {
		return registryMap(nil)
	}
	return registryMap(c.vodCtrl.volumes)
}

func (c *ExecCtx) BucketResolver() blob.Resolver {
	if c.vodCtrl == nil {
		return blob.MapResolver(nil)
	}
	return blob.MapResolver(c.vodCtrl.buckets)
}

func (c *ExecCtx) clone() *ExecCtx {
	cp := *c
	return &cp
}

func (c *ExecCtx) WithLogger(l *zap.SugaredLogger) *ExecCtx {
	cp := c.clone()
	cp.log = l
	return cp
}

func (c *ExecCtx) WithVODCtrl(ctrl *vodController) *ExecCtx {
	cp := c.clone()
	cp.vodCtrl = ctrl
	return cp
}

func (c *ExecCtx) WithServerCtrl(ctrl *serverController) *ExecCtx {
	cp := c.clone()
	cp.serverCtrl = ctrl
	return cp
}

func (c *ExecCtx) WithAppCtrl(ctrl *appController) *ExecCtx {
	cp := c.clone()
	cp.appCtrl = ctrl
	return cp
}

func (c *ExecCtx) WithFunctionCtrl(ctrl *functionController) *ExecCtx {
	cp := c.clone()
	cp.functionCtrl = ctrl
	return cp
}

// registryMap adapts the volume map of the vod controller to
// volume.Registry.
type registryMap map[string]volume.Volume

func (m registryMap) Get(name string) (volume.Volume, bool) {
	vol, ok := m[name]
	return vol, ok
}

// candidate is one configurable flavor of a component. Exactly one flavor
// must be enabled in a config block.
type candidate[T any] struct {
	typeName string
	enabled  bool
	create   func() (T, error)
}

func selectOne[T any](op, kind string, cands []candidate[T]) (T, error) {
	var (
		zero   T
		names  []string
		create func() (T, error)
	)
	for _, cand := range cands {
		if cand.enabled {
			names = append(names, cand.typeName)
			create = cand.create
		}
	}

	switch len(names) {
	case 0:
		return zero, fmt.Errorf("%s: no %s type configured", op, kind)
	case 1:
		return create()
	default:
		return zero, fmt.Errorf("%s: multiple %s types configured: %s", op, kind, names)
	}
}
