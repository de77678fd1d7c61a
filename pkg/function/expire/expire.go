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

package expire

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gobwas/glob/compiler"
	"github.com/gobwas/glob/match"
	"github.com/gobwas/glob/syntax"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/event"
	"github.com/nagare-media/vod/pkg/function"
)

const DefaultSchedule = 10 * time.Second

// expire deletes committed files matching the configured patterns once they
// exceed the configured age.
type expire struct {
	cfg         v1alpha1.Function
	fileMatcher match.Matchers
	wakePeriod  time.Duration

	mtx     sync.Mutex
	pending []pendingFile // FIFO ordered by commit time
}

// pendingFile records a committed file together with its commit time. Files
// expire relative to this time.
type pendingFile struct {
	bucket string
	key    string
	at     time.Time
}

func New(cfg v1alpha1.Function) (function.Function, error) {
	if err := function.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}

	fn := &expire{
		cfg:         cfg,
		fileMatcher: make(match.Matchers, 0, len(cfg.Expire.Files)),
		wakePeriod:  DefaultSchedule,
	}

	if cfg.Expire.Schedule != "" {
		d, err := time.ParseDuration(cfg.Expire.Schedule)
		if err != nil {
			return nil, fmt.Errorf("expire: Schedule invalid: %w", err)
		}
		if d <= 0 {
			return nil, errors.New("expire: Schedule must be positive")
		}
		fn.wakePeriod = d
	}

	for _, fp := range cfg.Expire.Files {
		ast, err := syntax.Parse(fp)
		if err != nil {
			return nil, err
		}
		matcher, err := compiler.Compile(ast, []rune{'/'})
		if err != nil {
			return nil, err
		}
		fn.fileMatcher = append(fn.fileMatcher, matcher)
	}

	return fn, nil
}

func (fn *expire) Config() v1alpha1.Function {
	return fn.cfg
}

func (fn *expire) Exec(ctx context.Context, execCtx function.ExecCtx) error {
	events := execCtx.App().EventStream().Sub()
	defer execCtx.App().EventStream().Desub(events)

	go fn.runGC(ctx, execCtx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-events:
			fe, ok := e.(*event.FileEvent)
			if !ok || fe.Type != event.FileCommittedEvent {
				continue
			}
			if fn.matches(fe.Key) {
				fn.push(pendingFile{bucket: fe.Bucket, key: fe.Key, at: fe.Time})
			}
		}
	}
}

func (fn *expire) matches(key string) bool {
	for _, m := range fn.fileMatcher {
		if m.Match(key) {
			return true
		}
	}
	return false
}

func (fn *expire) push(pf pendingFile) {
	fn.mtx.Lock()
	fn.pending = append(fn.pending, pf)
	fn.mtx.Unlock()
}

func (fn *expire) peek() (pendingFile, bool) {
	fn.mtx.Lock()
	defer fn.mtx.Unlock()
	if len(fn.pending) == 0 {
		return pendingFile{}, false
	}
	return fn.pending[0], true
}

func (fn *expire) pop() {
	fn.mtx.Lock()
	fn.pending[0] = pendingFile{}
	fn.pending = fn.pending[1:]
	fn.mtx.Unlock()
}

func (fn *expire) runGC(ctx context.Context, execCtx function.ExecCtx) {
	t := time.NewTimer(fn.wakeAfter())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case now := <-t.C:
			fn.sweep(now, execCtx)
		}

		t.Reset(fn.wakeAfter())
	}
}

// sweep deletes expired files from the queue head until it hits a file that
// is still young or could not be removed.
func (fn *expire) sweep(now time.Time, execCtx function.ExecCtx) {
	stream := execCtx.App().EventStream()

	for {
		pf, ok := fn.peek()
		if !ok || pf.at.Add(fn.cfg.Expire.Age).After(now) {
			return
		}

		if !fn.deleteEverywhere(execCtx, pf.key) {
			// retry on the next wake up
			return
		}

		stream.Pub(event.NewFileEvent(event.FileDeletedEvent, pf.bucket, pf.key, 0))
		fn.pop()
	}
}

// deleteEverywhere removes key from all referenced volumes. Files already
// gone count as removed.
func (fn *expire) deleteEverywhere(execCtx function.ExecCtx, key string) bool {
	log := execCtx.Logger()

	removed := true
	for _, vref := range fn.cfg.Expire.VolumeRefs {
		vol, ok := execCtx.VolumeRegistry().Get(vref.Name)
		if !ok {
			log.Errorf("failed to resolve volume reference %s", vref.Name)
			continue
		}

		if err := vol.Delete(key); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.With("error", err).Errorf("failed to delete file: '%s'", key)
			removed = false
		}
	}
	return removed
}

// wakeAfter reports when the GC should run next: when the oldest pending
// file expires, or after one period if nothing is queued.
func (fn *expire) wakeAfter() time.Duration {
	pf, ok := fn.peek()
	if !ok {
		return fn.wakePeriod
	}
	return time.Until(pf.at.Add(fn.cfg.Expire.Age))
}
