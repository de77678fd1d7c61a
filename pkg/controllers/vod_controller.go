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
	"errors"
	"fmt"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/volume"
	"github.com/nagare-media/vod/pkg/volume/fs"
	"github.com/nagare-media/vod/pkg/volume/mem"
	"github.com/nagare-media/vod/pkg/volume/null"
)

// vodController owns the volumes and bucket mapping and runs one server
// controller per configured server.
type vodController struct {
	volumes           map[string]volume.Volume
	buckets           map[string]volume.Volume
	serverControllers []Controller
}

func NewVODController(cfg v1alpha1.Config) (*vodController, error) {
	volumes, err := buildVolumes(cfg.Volumes)
	if err != nil {
		return nil, err
	}

	buckets, err := buildBuckets(cfg.Buckets, volumes)
	if err != nil {
		return nil, err
	}

	serverCtrls, err := buildServerControllers(cfg.Servers)
	if err != nil {
		return nil, err
	}

	return &vodController{
		volumes:           volumes,
		buckets:           buckets,
		serverControllers: serverCtrls,
	}, nil
}

func buildVolumes(cfgs []v1alpha1.Volume) (map[string]volume.Volume, error) {
	volumes := make(map[string]volume.Volume, len(cfgs))
	for _, volCfg := range cfgs {
		if _, ok := volumes[volCfg.Name]; ok {
			return nil, fmt.Errorf("NewVODController: multiple volumes with the same name '%s' configured", volCfg.Name)
		}
		vol, err := newVolume(volCfg)
		if err != nil {
			return nil, err
		}
		volumes[volCfg.Name] = vol
	}
	return volumes, nil
}

func buildBuckets(cfgs []v1alpha1.Bucket, volumes map[string]volume.Volume) (map[string]volume.Volume, error) {
	buckets := make(map[string]volume.Volume, len(cfgs))
	for _, bktCfg := range cfgs {
		if _, ok := buckets[bktCfg.Name]; ok {
			return nil, fmt.Errorf("NewVODController: multiple buckets with the same name '%s' configured", bktCfg.Name)
		}
		vol, ok := volumes[bktCfg.VolumeRef.Name]
		if !ok {
			return nil, fmt.Errorf("NewVODController: bucket '%s' references unknown volume '%s'", bktCfg.Name, bktCfg.VolumeRef.Name)
		}
		buckets[bktCfg.Name] = vol
	}
	return buckets, nil
}

func buildServerControllers(cfgs []v1alpha1.Server) ([]Controller, error) {
	ctrls := make([]Controller, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, srvCfg := range cfgs {
		if seen[srvCfg.Name] {
			return nil, fmt.Errorf("NewVODController: multiple servers with the same name '%s' configured", srvCfg.Name)
		}
		seen[srvCfg.Name] = true

		ctrl, err := NewServerController(srvCfg)
		if err != nil {
			return nil, err
		}
		ctrls = append(ctrls, ctrl)
	}
	return ctrls, nil
}

func (c *vodController) Exec(ctx context.Context, execCtx *ExecCtx) error {
	log := execCtx.Logger().Named("vod")
	execCtx = execCtx.
		WithVODCtrl(c).
		WithLogger(log)

	log.Info("start vod controller")
	if len(c.serverControllers) == 0 {
		log.Warn("no server configured; nothing to do")
		return nil
	}

	log.Info("initialize volumes")
	for _, vol := range c.volumes {
		if err := vol.Init(execCtx); err != nil {
			log.Errorw("vodController: initializing volume failed", "error", err)
			return err
		}
	}

	log.Info("start sub-controllers")
	group := NewGroupController(GroupControllerOpts{}, c.serverControllers...)
	err := group.Exec(ctx, execCtx)

	log.Info("deinitialize volumes")
	for _, vol := range c.volumes {
		if deinitErr := vol.Deinit(execCtx); deinitErr != nil {
			log.Errorw("vodController: deinitializing volume failed", "error", deinitErr)
			err = deinitErr
		}
	}

	log.Info("shutdown vod controller")
	return err
}

func newVolume(cfg v1alpha1.Volume) (volume.Volume, error) {
	return selectOne("newVolume", "volume", []candidate[volume.Volume]{
		{"null", cfg.Null != nil, func() (volume.Volume, error) { return null.New(cfg) }},
		{"mem", cfg.Memory != nil, func() (volume.Volume, error) { return mem.New(cfg) }},
		{"fs", cfg.FileSystem != nil, func() (volume.Volume, error) { return fs.New(cfg) }},
		{"s3", cfg.S3 != nil, func() (volume.Volume, error) {
			return nil, errors.New("newVolume: s3 volumes are not implemented")
		}},
	})
}
