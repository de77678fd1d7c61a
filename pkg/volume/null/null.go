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

package null

import (
	"io"
	"os"
	"time"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/volume"
)

// null discards all writes and holds no objects. Useful as a sink in test
// and benchmark setups.
type null struct {
	cfg v1alpha1.Volume
}

var (
	sharedFile   = &file{}
	sharedReader = &reader{}
	sharedWriter = &writer{}
)

func New(cfg v1alpha1.Volume) (volume.Volume, error) {
	if err := volume.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	return &null{cfg: cfg}, nil
}

func (v *null) Config() v1alpha1.Volume {
	return v.cfg
}

func (v *null) Init(execCtx volume.ExecCtx) error {
	execCtx.Logger().Info("null volume initialized")
	return nil
}

func (v *null) Deinit(execCtx volume.ExecCtx) error {
	execCtx.Logger().Info("null volume deinitialized")
	return nil
}

func (v *null) Open(string) (volume.File, error) {
	return nil, os.ErrNotExist
}

func (v *null) OpenCreate(string) (volume.File, error) {
	return sharedFile, nil
}

func (v *null) Delete(string) error {
	return nil
}

type file struct{}

func (f *file) Name() string { return "null" }

func (f *file) AcquireReader() (volume.FileReader, error) { return sharedReader, nil }

func (f *file) AcquireWriter() (volume.FileWriter, error) { return sharedWriter, nil }

type reader struct{}

func (r *reader) Read([]byte) (int, error) { return 0, io.EOF }

func (r *reader) Seek(int64, int) (int64, error) { return 0, nil }

func (r *reader) Size() int64 { return 0 }

func (r *reader) ModTime() time.Time { return volume.UnixEpoch }

func (r *reader) Close() error { return nil }

type writer struct{}

func (w *writer) Write(p []byte) (int, error) { return len(p), nil }

func (w *writer) Commit() error { return nil }

func (w *writer) Abort() error { return nil }
