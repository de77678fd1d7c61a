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

package volume

import (
	"errors"
	"io"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
)

var (
	NameRegex = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
	UnixEpoch = time.Unix(0, 0)

	ErrAlreadyCommitted = errors.New("already committed")
	ErrReadOnly         = errors.New("read-only volume")
)

// Volume stores media objects. Writes follow a write-once discipline: new
// content is staged by a FileWriter and becomes visible to readers atomically
// on Commit. Readers therefore always observe complete objects.
type Volume interface {
	Config() v1alpha1.Volume
	Init(execCtx ExecCtx) error
	Deinit(execCtx ExecCtx) error

	Open(path string) (File, error)
	OpenCreate(path string) (File, error)
	Delete(path string) error
}

// File is a handle to an object in a Volume. Acquiring a reader or writer
// does not invalidate the handle.
type File interface {
	Name() string
	AcquireReader() (FileReader, error)
	AcquireWriter() (FileWriter, error)
}

// FileReader reads a committed object. The snapshot taken at acquire time is
// stable even if the object is overwritten or deleted concurrently. Size
// reports the total object size independent of the read position.
type FileReader interface {
	io.Reader
	io.Closer
	io.Seeker
	Size() int64
	ModTime() time.Time
}

// FileWriter stages content for a single object. Commit publishes the staged
// content and replaces any previous version. Abort discards it. Exactly one
// of the two must be called; later calls return ErrAlreadyCommitted.
type FileWriter interface {
	io.Writer
	Commit() error
	Abort() error
}

type ExecCtx interface {
	Logger() *zap.SugaredLogger
}

type Registry interface {
	Get(name string) (Volume, bool)
}

func CheckAndSetDefaults(cfg *v1alpha1.Volume) error {
	if !NameRegex.MatchString(cfg.Name) {
		return errors.New("volume: Name invalid")
	}
	return nil
}
