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

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/server"
	"github.com/nagare-media/vod/pkg/server/http"
)

type serverController struct {
	server server.Server
	apps   []*appController
}

func NewServerController(cfg v1alpha1.Server) (*serverController, error) {
	srv, err := newServer(cfg)
	if err != nil {
		return nil, err
	}

	c := &serverController{
		server: srv,
		apps:   make([]*appController, 0, len(cfg.Apps)),
	}

	seen := make(map[string]bool, len(cfg.Apps))
	for _, appCfg := range cfg.Apps {
		if seen[appCfg.Name] {
			return nil, fmt.Errorf("NewServerController: multiple apps with the same name '%s' configured", appCfg.Name)
		}
		seen[appCfg.Name] = true

		appCtrl, err := NewAppController(appCfg)
		if err != nil {
			return nil, err
		}
		c.apps = append(c.apps, appCtrl)
	}

	return c, nil
}

func (c *serverController) Server() server.Server {
	return c.server
}

func (c *serverController) Exec(ctx context.Context, execCtx *ExecCtx) error {
	name := c.server.Config().Name
	log := execCtx.Logger().
		Named(name).
		With("server", name)
	execCtx = execCtx.
		WithServerCtrl(c).
		WithLogger(log)

	log.Info("start server controller")
	if len(c.apps) == 0 {
		log.Warn("server has no apps configured; nothing to do")
		return nil
	}

	log.Infof("register %d apps", len(c.apps))
	for _, appCtrl := range c.apps {
		if err := c.server.Register(execCtx, appCtrl.App()); err != nil {
			return err
		}
	}

	log.Info("start app controllers and listener")
	ctx, cancel := context.WithCancel(ctx)
	group := NewGroupController(GroupControllerOpts{})
	for _, appCtrl := range c.apps {
		group.Add(appCtrl)
	}
	group.Add(c.listener(cancel))
	err := group.Exec(ctx, execCtx)

	log.Info("shutdown server controller")
	return err
}

// listener wraps the blocking server loop as a controller. When the server
// returns, the surrounding context is canceled so all apps stop as well.
func (c *serverController) listener(cancel context.CancelFunc) Controller {
	return ControllerFunc(func(ctx context.Context, execCtx *ExecCtx) error {
		defer cancel()

		err := c.server.Listen(ctx, execCtx)
		if err != nil {
			execCtx.Logger().Errorw("server failed unexpectedly; stop all apps", "error", err)
		}
		return err
	})
}

func newServer(cfg v1alpha1.Server) (server.Server, error) {
	return selectOne("newServer", "server", []candidate[server.Server]{
		{"http", cfg.HTTP != nil, func() (server.Server, error) { return http.New(cfg) }},
	})
}
