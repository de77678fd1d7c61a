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
	"sync"
	"sync/atomic"
)

// groupController runs its sub-controllers concurrently and waits for all
// of them to return.
type groupController struct {
	controllers []Controller
	opts        GroupControllerOpts
}

type GroupControllerOpts struct {
	// StopAllOnError cancels the remaining sub-controllers as soon as one
	// of them fails.
	StopAllOnError bool
}

func NewGroupController(opts GroupControllerOpts, ctrl ...Controller) *groupController {
	if ctrl == nil {
		ctrl = make([]Controller, 0)
	}
	return &groupController{
		controllers: ctrl,
		opts:        opts,
	}
}

func (g *groupController) IsZero() bool {
	return g.IsEmpty()
}

func (g *groupController) IsEmpty() bool {
	return len(g.controllers) == 0
}

func (g *groupController) Add(ctrl Controller) {
	g.controllers = append(g.controllers, ctrl)
}

func (g *groupController) Exec(ctx context.Context, execCtx *ExecCtx) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, ctrl := range g.controllers {
		ctrl := ctrl
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.runOne(ctx, execCtx, ctrl, &failed, cancel)
		}()
	}
	wg.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("groupController.Exec: %d controller(s) failed", n)
	}
	return nil
}

func (g *groupController) runOne(ctx context.Context, execCtx *ExecCtx, ctrl Controller, failed *atomic.Int32, cancel context.CancelFunc) {
	err := ctrl.Exec(ctx, execCtx)
	if err == nil {
		return
	}

	failed.Add(1)
	log := execCtx.Logger()
	if g.opts.StopAllOnError {
		log.Errorw("sub-controller failed unexpectedly; signal all to stop", "error", err)
		cancel()
	} else {
		log.Errorw("sub-controller failed unexpectedly; keep others running", "error", err)
	}
}
