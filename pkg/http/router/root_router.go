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

package router

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/gobwas/glob/compiler"
	"github.com/gobwas/glob/match"
	"github.com/gobwas/glob/syntax"
	"github.com/gobwas/glob/syntax/ast"
	"github.com/gofiber/fiber/v2"

	"github.com/nagare-media/vod/pkg/http"
)

type RootRouter interface {
	Router

	Host(pattern string) Router

	FiberApp() *fiber.App
	Register()
}

const (
	matchTypeExact = "exact"
	matchTypeGlob  = "glob"
)

// hostEntry ties a host pattern to its hidden path prefix.
type hostEntry struct {
	prefix  string
	matcher match.Matcher // nil for exact patterns
}

type hostIndex struct {
	entry     map[string]*hostEntry
	globOrder []string // glob patterns, longest first
}

type rootRouter struct {
	app      *fiber.App
	prefix   string
	handlers []fiber.Handler
	hosts    *hostIndex
}

func New(app *fiber.App) *rootRouter {
	return &rootRouter{
		app:    app,
		prefix: "/",
		hosts: &hostIndex{
			entry: make(map[string]*hostEntry),
		},
	}
}

func (r *rootRouter) Host(pattern string) Router {
	if strings.HasPrefix(r.prefix, HostRoutesPrefix) {
		panic("router: Host called on a host router")
	}

	e, ok := r.hosts.entry[pattern]
	if !ok {
		e = r.indexHostPattern(pattern)
	}

	guard := func(c *fiber.Ctx) error {
		// routes below are reachable through internal redirects only
		if p, ok := c.Locals(http.HostPatternKey).(string); !ok || p != pattern {
			return fiber.ErrNotFound
		}
		return c.Next()
	}

	return &rootRouter{
		app:      r.app,
		prefix:   e.prefix,
		handlers: r.chain(guard),
		hosts:    r.hosts,
	}
}

// indexHostPattern registers pattern in the host index and assigns it a
// hidden path prefix derived from the pattern hash.
func (r *rootRouter) indexHostPattern(pattern string) *hostEntry {
	hash := sha256.Sum256([]byte(pattern))
	e := &hostEntry{
		prefix: joinPath(HostRoutesPrefix, r.prefix, fmt.Sprintf("%x", hash)),
	}

	tree, err := syntax.Parse(pattern)
	if err != nil {
		panic("router: invalid host pattern " + pattern)
	}

	if len(tree.Children) != 1 || tree.Children[0].Kind != ast.KindText {
		m, err := compiler.Compile(tree, []rune{'.'})
		if err != nil {
			panic("router: host pattern does not compile: " + pattern)
		}
		e.matcher = m

		// longer patterns are considered more specific and searched first
		i := sort.Search(len(r.hosts.globOrder), func(i int) bool {
			return len(r.hosts.globOrder[i]) < len(pattern)
		})
		r.hosts.globOrder = slices.Insert(r.hosts.globOrder, i, pattern)
	}

	r.hosts.entry[pattern] = e
	return e
}

func (r *rootRouter) Register() {
	r.app.Use(r.dispatchByHost)
}

// dispatchByHost maps the request host to a registered host pattern and
// redirects into the hidden route tree for that pattern. Match state is kept
// in request locals so that a fallthrough after RestartRouting resumes the
// search at the next candidate instead of starting over.
func (r *rootRouter) dispatchByHost(c *fiber.Ctx) error {
	hostname := c.Hostname()

	origPath, ok := c.Locals(http.OriginalPathKey).(string)
	if !ok {
		// fiber may reuse the underlying buffer, keep a stable copy
		origPath = strings.Clone(c.Path())
		c.Locals(http.OriginalPathKey, origPath)
	}

	prevType, resumed := c.Locals(http.HostMatchTypeKey).(string)
	switch {
	case !resumed:
		// first pass: an exact pattern wins over any glob
		if e, ok := r.hosts.entry[hostname]; ok && e.matcher == nil {
			return r.enterHostTree(c, hostname, matchTypeExact, -1, origPath)
		}
	case prevType != matchTypeExact && prevType != matchTypeGlob:
		return fiber.ErrInternalServerError
	}
	// a host tree that fell through continues with the remaining glob
	// candidates

	idx, ok := c.Locals(http.HostGlobSearchIndexKey).(int)
	if !ok {
		idx = -1
	}
	for idx++; idx < len(r.hosts.globOrder); idx++ {
		pattern := r.hosts.globOrder[idx]
		if r.hosts.entry[pattern].matcher.Match(hostname) {
			return r.enterHostTree(c, pattern, matchTypeGlob, idx, origPath)
		}
	}

	// no candidate left, hand over to the non-host routes
	c.Locals(http.HostPatternKey, nil)
	c.Locals(http.HostMatchTypeKey, nil)
	c.Locals(http.HostGlobSearchIndexKey, nil)
	return c.Next()
}

func (r *rootRouter) enterHostTree(c *fiber.Ctx, pattern, matchType string, idx int, origPath string) error {
	c.Locals(http.HostPatternKey, pattern)
	c.Locals(http.HostMatchTypeKey, matchType)
	c.Locals(http.HostGlobSearchIndexKey, idx)
	c.Locals(http.InInternalRedirectKey, true)
	c.Path(joinPath(r.hosts.entry[pattern].prefix, origPath))
	return c.RestartRouting()
}

// chain copies the router handlers followed by handlers into a fresh slice.
// Sharing the backing array between routes would let a later registration
// overwrite the handlers of an earlier one.
func (r *rootRouter) chain(handlers ...fiber.Handler) []fiber.Handler {
	out := make([]fiber.Handler, 0, len(r.handlers)+len(handlers))
	out = append(out, r.handlers...)
	return append(out, handlers...)
}

func (r *rootRouter) Use(args ...any) Router {
	if len(args) == 0 {
		panic("router: Use requires at least one handler")
	}

	prefix := r.prefix
	if s, ok := args[0].(string); ok {
		prefix = joinPath(r.prefix, s)
		args = args[1:]
	}

	fargs := make([]any, 0, len(r.handlers)+len(args)+1)
	fargs = append(fargs, prefix)
	for _, h := range r.handlers {
		fargs = append(fargs, h)
	}
	fargs = append(fargs, args...)

	r.app.Use(fargs...)
	return r
}

func (r *rootRouter) Get(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodGet, path, handlers...)
}

func (r *rootRouter) Head(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodHead, path, handlers...)
}

func (r *rootRouter) Post(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodPost, path, handlers...)
}

func (r *rootRouter) Put(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodPut, path, handlers...)
}

func (r *rootRouter) Delete(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodDelete, path, handlers...)
}

func (r *rootRouter) Connect(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodConnect, path, handlers...)
}

func (r *rootRouter) Options(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodOptions, path, handlers...)
}

func (r *rootRouter) Trace(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodTrace, path, handlers...)
}

func (r *rootRouter) Patch(path string, handlers ...fiber.Handler) Router {
	return r.Add(fiber.MethodPatch, path, handlers...)
}

func (r *rootRouter) Add(method, path string, handlers ...fiber.Handler) Router {
	r.app.Add(method, joinPath(r.prefix, path), r.chain(handlers...)...)
	return r
}

func (r *rootRouter) All(path string, handlers ...fiber.Handler) Router {
	r.app.All(joinPath(r.prefix, path), r.chain(handlers...)...)
	return r
}

func (r *rootRouter) Group(prefix string, handlers ...fiber.Handler) Router {
	return &rootRouter{
		app:      r.app,
		prefix:   joinPath(r.prefix, prefix),
		handlers: r.chain(handlers...),
		hosts:    r.hosts,
	}
}

func (r *rootRouter) FiberApp() *fiber.App {
	return r.app
}
