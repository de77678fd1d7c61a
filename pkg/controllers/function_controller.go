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

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/function"
	"github.com/nagare-media/vod/pkg/function/expire"
	"github.com/nagare-media/vod/pkg/function/notify"
	"github.com/nagare-media/vod/pkg/function/publish"
	"github.com/nagare-media/vod/pkg/function/replicate"
)

type FunctionController interface {
	Controller
	Function() function.Function
}

type functionController struct {
	function function.Function
}

var _ FunctionController = &functionController{}

func NewFunctionController(cfg v1alpha1.Function) (*functionController, error) {
	fn, err := newFunction(cfg)
	if err != nil {
		return nil, err
	}
	return &functionController{function: fn}, nil
}

func (c *functionController) Function() function.Function {
	return c.function
}

func (c *functionController) Exec(ctx context.Context, execCtx *ExecCtx) error {
	name := c.function.Config().Name
	log := execCtx.Logger().
		Named(name).
		With("function", name)
	execCtx = execCtx.
		WithFunctionCtrl(c).
		WithLogger(log)

	log.Info("start function controller")
	err := c.function.Exec(ctx, execCtx)

	log.Info("shutdown function controller")
	return err
}

func newFunction(cfg v1alpha1.Function) (function.Function, error) {
	return selectOne("newFunction", "function", []candidate[function.Function]{
		{"expire", cfg.Expire != nil, func() (function.Function, error) { return expire.New(cfg) }},
		{"notify", cfg.Notify != nil, func() (function.Function, error) { return notify.New(cfg) }},
		{"publish", cfg.Publish != nil, func() (function.Function, error) { return publish.New(cfg) }},
		{"replicate", cfg.Replicate != nil, func() (function.Function, error) { return replicate.New(cfg) }},
	})
}
