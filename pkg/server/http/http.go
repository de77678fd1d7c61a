/*
Copyright 2022 The nagare media authors

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

package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/nagare-media/vod/internal/uuid"
	"github.com/nagare-media/vod/pkg/app"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/http"
	"github.com/nagare-media/vod/pkg/http/router"
	"github.com/nagare-media/vod/pkg/server"
)

const (
	DefaultHTTPNetwork     = "tcp"
	DefaultHTTPIdleTimeout = 75 * time.Second
)

type httpSrv struct {
	cfg     v1alpha1.Server
	router  router.RootRouter
	execCtx server.ExecCtx
}

// HTTPRegistrable is implemented by apps that serve HTTP routes.
type HTTPRegistrable interface {
	RegisterHTTPRoutes(router router.Router, handleOptions bool) error
	HTTPConfig() *v1alpha1.HTTPApp
}

func New(cfg v1alpha1.Server) (server.Server, error) {
	if err := server.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.HTTP.Network == "" {
		cfg.HTTP.Network = DefaultHTTPNetwork
	}
	if cfg.HTTP.IdleTimeout <= 0 {
		cfg.HTTP.IdleTimeout = DefaultHTTPIdleTimeout
	}

	s := &httpSrv{cfg: cfg}
	s.router = router.New(fiber.New(fiber.Config{
		ServerHeader:          "nagare media vod",
		AppName:               cfg.Name,
		DisableStartupMessage: true,
		Network:               cfg.HTTP.Network,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		Concurrency:           cfg.HTTP.Concurrency,
		BodyLimit:             int(cfg.HTTP.BodyLimit),
		StreamRequestBody:     true,
	}))

	// global middlewares; logRequests runs first so the request ID is set by
	// the time it reads it after Next
	s.router.Use(s.logRequests)
	s.router.Use(requestid.New(requestid.Config{
		Next:       http.NextIfInInternalRedirect,
		ContextKey: http.RequestIDKey,
		Generator:  uuid.UUIDv4,
	}))

	return s, nil
}

// logRequests writes one debug line per request once the response is done.
// TODO: add HTTP metrics and tracing
func (s *httpSrv) logRequests(c *fiber.Ctx) error {
	if http.NextIfInInternalRedirect(c) {
		return c.Next()
	}

	start := time.Now()
	err := c.Next()
	elapsed := time.Since(start)

	log := s.execCtx.Logger()
	if !log.Desugar().Core().Enabled(zap.DebugLevel) {
		return err
	}

	status := c.Response().StatusCode()
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		status = fiberErr.Code
	}

	// requests routed by host carry the path from before the internal
	// redirect
	path, ok := c.Locals(http.OriginalPathKey).(string)
	if !ok {
		path = c.Path()
	}
	requestID, _ := c.Locals(http.RequestIDKey).(string)

	log.Debugw(fmt.Sprintf("%d %s %s%s", status, c.Method(), c.Hostname(), path),
		"remoteAddr", c.Context().RemoteAddr(),
		"hostname", c.Hostname(),
		"method", c.Method(),
		"path", path,
		"referer", c.Request().Header.Referer(),
		"userAgent", string(c.Request().Header.UserAgent()),
		"status", status,
		"responseTime", elapsed,
		"requestID", requestID,
	)
	return err
}

func (s *httpSrv) Config() v1alpha1.Server {
	return s.cfg
}

func (s *httpSrv) Register(execCtx server.ExecCtx, app app.App) error {
	log := execCtx.Logger()

	httpApp, ok := app.(HTTPRegistrable)
	if !ok {
		return errors.New("http.Register: cannot register non HTTP app")
	}

	cfg := httpApp.HTTPConfig()
	if cfg.Host == "" {
		log.Warn("HTTP Host not set; using '*'")
		cfg.Host = "*"
	}
	if cfg.Path == "" {
		log.Warn("HTTP Path not set; using '/'")
		cfg.Path = "/"
	}

	r := s.router.Host(cfg.Host).Group(cfg.Path, appMiddlewares(cfg)...)
	return httpApp.RegisterHTTPRoutes(r, cfg.CORS != nil)
}

func appMiddlewares(cfg *v1alpha1.HTTPApp) []fiber.Handler {
	var mw []fiber.Handler

	if cfg.Auth != nil && cfg.Auth.Basic != nil {
		users := make(map[string]string, len(cfg.Auth.Basic.Users))
		for _, u := range cfg.Auth.Basic.Users {
			users[u.Name] = u.Password
		}
		mw = append(mw, basicauth.New(basicauth.Config{
			Users: users,
		}))
	}
	// TODO: add Auth middleware for digest, tls

	if cfg.CORS != nil {
		mw = append(mw, cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowOrigins,
			AllowMethods:     cfg.CORS.AllowMethods,
			AllowHeaders:     cfg.CORS.AllowHeaders,
			AllowCredentials: cfg.CORS.AllowCredentials,
			ExposeHeaders:    cfg.CORS.ExposeHeaders,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	return mw
}

func (s *httpSrv) Listen(ctx context.Context, execCtx server.ExecCtx) error {
	s.execCtx = execCtx
	log := execCtx.Logger()

	s.router.Register()
	s.router.Use(rejectUnmatched)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("start listening on %s %s", s.cfg.HTTP.Network, s.cfg.HTTP.Address)
		// TODO: add support for TLS
		errCh <- s.router.FiberApp().Listen(s.cfg.HTTP.Address)
	}()

	select {
	case err := <-errCh:
		// stopped listening, but ctx is still running
		log.Errorw(fmt.Sprintf("unexpectedly stopped listening on %s %s:", s.cfg.HTTP.Network, s.cfg.HTTP.Address), "error", err)
		return err
	case <-ctx.Done():
		log.Infof("stopped listening on %s %s", s.cfg.HTTP.Network, s.cfg.HTTP.Address)
		return s.router.FiberApp().Shutdown()
	}
}

// rejectUnmatched terminates requests no app routed. Read methods get a 404,
// everything else a 403.
func rejectUnmatched(c *fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
		return fiber.ErrNotFound
	default:
		return fiber.ErrForbidden
	}
}
