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

	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/app/blobingest"
	"github.com/nagare-media/vod/pkg/app/genericserve"
	"github.com/nagare-media/vod/pkg/app/mediaingest"
	"github.com/nagare-media/vod/pkg/app/vodserve"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
)

type AppController interface {
	Controller
	App() app.App
}

type appController struct {
	app       app.App
	functions []FunctionController
}

var _ AppController = &appController{}

func NewAppController(cfg v1alpha1.App) (*appController, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}

	c := &appController{
		app:       a,
		functions: make([]FunctionController, 0, len(cfg.Functions)),
	}

	seen := make(map[string]bool, len(cfg.Functions))
	for _, fnCfg := range cfg.Functions {
		if seen[fnCfg.Name] {
			return nil, fmt.Errorf("NewAppController: multiple functions with the same name '%s' configured", fnCfg.Name)
		}
		seen[fnCfg.Name] = true

		fnCtrl, err := NewFunctionController(fnCfg)
		if err != nil {
			return nil, err
		}
		c.functions = append(c.functions, fnCtrl)
	}

	return c, nil
}

func (c *appController) App() app.App {
	return c.app
}

func (c *appController) Exec(ctx context.Context, execCtx *ExecCtx) error {
	name := c.app.Config().Name
	log := execCtx.Logger().
		Named(name).
		With("app", name)
	execCtx = execCtx.
		WithAppCtrl(c).
		WithLogger(log)

	log.Info("start app controller")
	if len(c.functions) == 0 {
		// an app without functions keeps serving under the server context
		c.app.SetCtx(ctx)
		c.app.SetExecCtx(execCtx)
		log.Warn("no functions configured; nothing to do")
		return nil
	}

	// derive a context so the app stops handling requests once a function dies
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.app.SetCtx(ctx)
	c.app.SetExecCtx(execCtx)

	log.Infof("start %d function controllers", len(c.functions))
	group := NewGroupController(GroupControllerOpts{
		// functions may depend on each other, stop all if one dies
		StopAllOnError: true,
	})
	for _, fnCtrl := range c.functions {
		group.Add(fnCtrl)
	}
	err := group.Exec(ctx, execCtx)

	log.Info("shutdown app controller")
	return err
}

func newApp(cfg v1alpha1.App) (app.App, error) {
	return selectOne("newApp", "app", []candidate[app.App]{
		{"genericServe", cfg.GenericServe != nil, func() (app.App, error) { return genericserve.New(cfg) }},
		{"vodServe", cfg.VODServe != nil, func() (app.App, error) { return vodserve.New(cfg) }},
		{"mediaIngest", cfg.MediaIngest != nil, func() (app.App, error) { return mediaingest.New(cfg) }},
		{"blobIngest", cfg.BlobIngest != nil, func() (app.App, error) { return blobingest.New(cfg) }},
	})
}
