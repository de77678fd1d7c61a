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

package fs

import (
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/nagare-media/vod/internal/pool"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/volume"
)

var (
	DefaultConfig = v1alpha1.FileSystemVolume{
		GarbageCollectionPeriod: 10 * time.Second,
	}
)

// fs maps objects onto a directory tree. Writers stage content in a hidden
// temp file next to the target and rename it into place on Commit, so
// readers only ever open complete files.
type fs struct {
	cfg  v1alpha1.Volume
	root string

	mtx     sync.RWMutex
	handles map[string]*file

	stop chan struct{}
}

func New(cfg v1alpha1.Volume) (volume.Volume, error) {
	if err := volume.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.FileSystem == nil {
		return nil, errors.New("fs.New: fs volume config not set")
	}
	if cfg.FileSystem.Path == "" {
		return nil, errors.New("fs.New: Path not set")
	}
	if cfg.FileSystem.GarbageCollectionPeriod <= 0 {
		cfg.FileSystem.GarbageCollectionPeriod = DefaultConfig.GarbageCollectionPeriod
	}

	root, err := filepath.Abs(cfg.FileSystem.Path)
	if err != nil {
		return nil, err
	}
	cfg.FileSystem.Path = root

	return &fs{
		cfg:     cfg,
		root:    root,
		handles: make(map[string]*file),
		stop:    make(chan struct{}),
	}, nil
}

func (v *fs) Config() v1alpha1.Volume {
	return v.cfg
}

func (v *fs) Init(execCtx volume.ExecCtx) error {
	log := execCtx.Logger()
	log.Info("initialize fs volume")

	if v.cfg.FileSystem.ReadOnly {
		s, err := os.Stat(v.root)
		if err != nil {
			return err
		}
		if !s.IsDir() {
			return errors.New("fs.Init: Path is not a directory")
		}
	} else if err := os.MkdirAll(v.root, 0755); err != nil {
		return err
	}

	go v.gcLoop(execCtx)

	log.Info("fs volume initialized")
	return nil
}

func (v *fs) Deinit(execCtx volume.ExecCtx) error {
	log := execCtx.Logger()
	log.Info("deinitialize fs volume")

	close(v.stop)
	// handle map released by the GC goroutine

	log.Info("fs volume deinitialized")
	return nil
}

func (v *fs) gcLoop(execCtx volume.ExecCtx) {
	t := time.NewTicker(v.cfg.FileSystem.GarbageCollectionPeriod)
	defer t.Stop()
	for {
		select {
		case <-v.stop:
			v.handles = nil
			return
		case <-t.C:
			v.RunGC(execCtx)
		}
	}
}

// RunGC drops handles without an active writer. Disk content is untouched;
// dropped handles are recreated on the next Open.
func (v *fs) RunGC(volume.ExecCtx) {
	// TODO: reference counting would let busy handles survive the sweep
	v.mtx.Lock()
	defer v.mtx.Unlock()

	for abs, f := range v.handles {
		f.wMtx.Lock()
		idle := f.w == nil
		f.wMtx.Unlock()
		if idle {
			delete(v.handles, abs)
		}
	}
}

func (v *fs) abs(name string) string {
	return filepath.Join(v.root, path.Clean("/"+name))
}

// Open returns a handle for name. The handle is created eagerly; whether the
// file exists on disk surfaces when a reader is acquired.
func (v *fs) Open(name string) (volume.File, error) {
	abs := v.abs(name)

	v.mtx.RLock()
	f, ok := v.handles[abs]
	v.mtx.RUnlock()
	if ok {
		return f, nil
	}

	v.mtx.Lock()
	defer v.mtx.Unlock()
	if f, ok = v.handles[abs]; ok {
		// lost the race against a concurrent Open
		return f, nil
	}

	f = &file{
		vol:  v,
		abs:  abs,
		name: path.Clean("/" + name),
	}
	v.handles[abs] = f
	return f, nil
}

func (v *fs) OpenCreate(name string) (volume.File, error) {
	return v.Open(name)
}

func (v *fs) Delete(name string) error {
	if v.cfg.FileSystem.ReadOnly {
		return volume.ErrReadOnly
	}

	abs := v.abs(name)

	v.mtx.Lock()
	delete(v.handles, abs)
	v.mtx.Unlock()

	return os.Remove(abs)
}

type file struct {
	vol  *fs
	abs  string
	name string

	wMtx sync.Mutex // serializes writers; held from AcquireWriter until Commit or Abort
	w    *writer
}

func (f *file) Name() string {
	return f.name
}

func (f *file) AcquireReader() (volume.FileReader, error) {
	// TODO: cache open file descriptors to absorb read bursts
	fd, err := os.Open(f.abs)
	if err != nil {
		return nil, err
	}
	return &reader{fd: fd}, nil
}

func (f *file) AcquireWriter() (volume.FileWriter, error) {
	if f.vol.cfg.FileSystem.ReadOnly {
		return nil, volume.ErrReadOnly
	}

	f.wMtx.Lock()
	// held until the writer commits or aborts

	s, err := os.Lstat(f.abs)
	switch {
	case err == nil && s.IsDir():
		f.wMtx.Unlock()
		return nil, errors.New("fs.AcquireWriter: path is a directory")
	case err != nil && !errors.Is(err, os.ErrNotExist):
		f.wMtx.Unlock()
		return nil, err
	}

	dir := filepath.Dir(f.abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.wMtx.Unlock()
		return nil, err
	}

	fd, err := os.CreateTemp(dir, ".vod-*.tmp")
	if err != nil {
		f.wMtx.Unlock()
		return nil, err
	}

	w := &writer{f: f, fd: fd}
	f.w = w
	return w, nil
}

type reader struct {
	fd *os.File
}

func (r *reader) Read(p []byte) (int, error) {
	return r.fd.Read(p)
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	return r.fd.Seek(offset, whence)
}

// WriteTo sends the remaining file contents to w. When w is a TCP connection
// (or fasthttp's bufio.Writer over one with an empty buffer) ReadFrom ends up
// in the sendfile system call.
func (r *reader) WriteTo(w io.Writer) (int64, error) {
	if rf, ok := w.(io.ReaderFrom); ok {
		return rf.ReadFrom(r.fd)
	}

	buf := pool.CopyBuf.Get().([]byte)
	defer pool.CopyBuf.Put(buf) // nolint
	return io.CopyBuffer(w, struct{ io.Reader }{r.fd}, buf)
}

func (r *reader) Size() int64 {
	s, err := r.fd.Stat()
	if err != nil {
		return -1
	}
	return s.Size()
}

func (r *reader) ModTime() time.Time {
	s, err := r.fd.Stat()
	if err != nil {
		return volume.UnixEpoch
	}
	return s.ModTime()
}

func (r *reader) Close() error {
	err := r.fd.Close()
	r.fd = nil
	return err
}

type writer struct {
	f      *file
	fd     *os.File
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	return w.fd.Write(p)
}

// Commit publishes the staged file under its final name. The rename is
// atomic; concurrent readers see either the old or the new version.
func (w *writer) Commit() error {
	if w.closed {
		return volume.ErrAlreadyCommitted
	}
	w.closed = true

	tmp := w.fd.Name()

	if err := w.fd.Chmod(0644); err != nil {
		w.release()
		return err
	}
	if err := w.fd.Close(); err != nil {
		w.release()
		return err
	}
	if err := os.Rename(tmp, w.f.abs); err != nil {
		w.release()
		return err
	}

	w.release()
	return nil
}

// Abort discards the staged file. Any previous version stays in place.
func (w *writer) Abort() error {
	if w.closed {
		return volume.ErrAlreadyCommitted
	}
	w.closed = true

	tmp := w.fd.Name()
	err := w.fd.Close()
	if rmErr := os.Remove(tmp); err == nil {
		err = rmErr
	}

	w.release()
	return err
}

func (w *writer) release() {
	w.f.w = nil
	w.f.wMtx.Unlock()
	w.f = nil
	w.fd = nil
}
