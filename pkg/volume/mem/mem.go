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

package mem

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/nagare-media/vod/pkg/config/v1alpha1"
	"github.com/nagare-media/vod/pkg/volume"
)

var (
	DefaultConfig = v1alpha1.MemoryVolume{
		BlockSize:               4 * bytesize.KB,
		GarbageCollectionPeriod: 10 * time.Second,
	}
)

// mem keeps objects in fixed-size blocks backed by a sync.Pool. Every commit
// installs an immutable snapshot; readers hold a reference to the snapshot
// they opened and are unaffected by later overwrites or deletes.
type mem struct {
	cfg    v1alpha1.Volume
	blocks sync.Pool

	mtx       sync.RWMutex
	files     map[string]*file
	graveyard []*snapshot

	stop chan struct{}
}

func New(cfg v1alpha1.Volume) (volume.Volume, error) {
	if err := volume.CheckAndSetDefaults(&cfg); err != nil {
		return nil, err
	}
	if cfg.Memory == nil {
		cfg.Memory = &v1alpha1.MemoryVolume{}
	}
	if cfg.Memory.BlockSize <= 0 {
		cfg.Memory.BlockSize = DefaultConfig.BlockSize
	}
	if cfg.Memory.GarbageCollectionPeriod <= 0 {
		cfg.Memory.GarbageCollectionPeriod = DefaultConfig.GarbageCollectionPeriod
	}

	blockSize := int(cfg.Memory.BlockSize)
	return &mem{
		cfg:   cfg,
		files: make(map[string]*file),
		stop:  make(chan struct{}),
		blocks: sync.Pool{
			New: func() any {
				return &block{data: make([]byte, 0, blockSize)}
			},
		},
	}, nil
}

func (v *mem) Config() v1alpha1.Volume {
	return v.cfg
}

func (v *mem) Init(execCtx volume.ExecCtx) error {
	log := execCtx.Logger()
	log.Info("initialize mem volume")

	go func() {
		t := time.NewTicker(v.cfg.Memory.GarbageCollectionPeriod)
		defer t.Stop()
		for {
			select {
			case <-v.stop:
				v.files = nil
				v.graveyard = nil
				return
			case <-t.C:
				v.RunGC(execCtx)
			}
		}
	}()

	log.Info("mem volume initialized")
	return nil
}

func (v *mem) Deinit(execCtx volume.ExecCtx) error {
	log := execCtx.Logger()
	log.Info("deinitialize mem volume")

	close(v.stop)
	// maps released by the GC goroutine

	log.Info("mem volume deinitialized")
	return nil
}

// RunGC returns the blocks of unreferenced dead snapshots to the pool.
// Snapshots still held by a reader stay in the graveyard for a later run.
func (v *mem) RunGC(volume.ExecCtx) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	var alive []*snapshot
	for _, snap := range v.graveyard {
		if snap.refs.Load() > 0 {
			alive = append(alive, snap)
			continue
		}
		for blk := snap.head; blk != nil; {
			next := blk.next
			blk.reset()
			v.blocks.Put(blk)
			blk = next
		}
	}
	v.graveyard = alive
}

// bury drops the owner reference of a snapshot and marks it for collection.
// Callers must hold v.mtx.
func (v *mem) bury(snap *snapshot) {
	if snap == nil {
		return
	}
	snap.refs.Add(-1)
	v.graveyard = append(v.graveyard, snap)
}

func (v *mem) Open(path string) (volume.File, error) {
	v.mtx.RLock()
	defer v.mtx.RUnlock()
	if f, ok := v.files[path]; ok {
		return f, nil
	}
	return nil, os.ErrNotExist
}

func (v *mem) OpenCreate(path string) (volume.File, error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	f, ok := v.files[path]
	if !ok {
		f = &file{path: path, vol: v}
		v.files[path] = f
	}
	return f, nil
}

func (v *mem) Delete(path string) error {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	if f, ok := v.files[path]; ok {
		delete(v.files, path)
		f.mu.Lock()
		v.bury(f.snap)
		f.snap = nil
		f.mu.Unlock()
	}
	return nil
}

type file struct {
	path string
	vol  *mem

	wMtx sync.Mutex // serializes writers; held from AcquireWriter until Commit or Abort

	mu   sync.RWMutex
	snap *snapshot // last committed snapshot, nil before the first commit
}

func (f *file) Name() string {
	return f.path
}

func (f *file) AcquireReader() (volume.FileReader, error) {
	f.mu.RLock()
	snap := f.snap
	if snap != nil {
		snap.refs.Add(1)
	}
	f.mu.RUnlock()

	if snap == nil {
		return nil, os.ErrNotExist
	}
	return &reader{snap: snap}, nil
}

func (f *file) AcquireWriter() (volume.FileWriter, error) {
	f.wMtx.Lock()
	// held until the writer commits or aborts

	blk := f.vol.blocks.Get().(*block)
	snap := &snapshot{modTime: volume.UnixEpoch, head: blk}
	snap.refs.Store(1) // owner ref, transferred to the file entry on Commit
	return &writer{f: f, snap: snap, tail: blk}, nil
}

// snapshot is one committed version of a file. It is immutable once
// installed, so readers access it without locking. refs counts the readers
// holding it plus one owner ref held by the writer and later the file
// entry. Blocks are released once a buried snapshot reaches zero.
type snapshot struct {
	refs    atomic.Int32
	modTime time.Time
	size    int64
	head    *block
}

type block struct {
	next *block
	data []byte
}

func (blk *block) reset() {
	blk.next = nil
	blk.data = blk.data[:0]
}

// absorb copies from p into the free space of the block and returns the
// bytes that did not fit.
func (blk *block) absorb(p []byte) []byte {
	l := len(blk.data)
	n := copy(blk.data[l:cap(blk.data)], p)
	blk.data = blk.data[:l+n]
	return p[n:]
}

type reader struct {
	snap *snapshot
	pos  int64
	cur  *block
	skip bool // advance cur before the next copy
}

func (r *reader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.cur == nil {
		if r.pos != 0 {
			panic("mem: no current block after reading started")
		}
		r.cur = r.snap.head
	}

	remaining := r.snap.size - r.pos
	if remaining <= 0 {
		return 0, io.EOF
	}

	// all blocks share the same capacity
	blkSize := cap(r.snap.head.data)
	start := int(r.pos % int64(blkSize))
	for remaining > 0 && len(p) > 0 {
		if r.skip {
			r.skip = false
			r.cur = r.cur.next
		}

		end := blkSize
		if remaining < int64(blkSize-start) {
			end = start + int(remaining)
		}

		n1 := copy(p, r.cur.data[start:end])
		n += n1
		start += n1
		r.pos += int64(n1)
		remaining -= int64(n1)
		p = p[n1:]

		if start == blkSize {
			r.skip = true
			start = 0
		}
	}

	return n, nil
}

func (r *reader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.pos
	case io.SeekEnd:
		offset += r.snap.size
	default:
		return 0, errors.New("mem.Seek: invalid whence")
	}
	if offset < 0 {
		return 0, errors.New("mem.Seek: negative position")
	}
	if offset > r.snap.size {
		offset = r.snap.size
	}

	// TODO: walking from the head is wasteful when seeking forward
	blkSize := cap(r.snap.head.data)
	r.pos = offset
	r.skip = false
	r.cur = r.snap.head
	for i := offset / int64(blkSize); i > 0; i-- {
		r.cur = r.cur.next
	}

	return offset, nil
}

func (r *reader) Size() int64 {
	return r.snap.size
}

func (r *reader) ModTime() time.Time {
	return r.snap.modTime
}

func (r *reader) Close() error {
	r.snap.refs.Add(-1)
	r.snap = nil
	r.cur = nil
	return nil
}

type writer struct {
	f      *file
	snap   *snapshot
	tail   *block
	closed bool
}

func (w *writer) Write(p []byte) (n int, err error) {
	n = len(p)
	for len(p) > 0 {
		p = w.tail.absorb(p)
		if len(p) == 0 {
			break
		}
		blk := w.f.vol.blocks.Get().(*block)
		w.tail.next = blk
		w.tail = blk
	}
	w.snap.size += int64(n)
	return n, nil
}

// Commit installs the staged snapshot as the current version. A previously
// installed snapshot moves to the graveyard once its readers are done.
func (w *writer) Commit() error {
	if w.closed {
		return volume.ErrAlreadyCommitted
	}
	w.closed = true

	w.snap.modTime = time.Now()

	w.f.vol.mtx.Lock()
	w.f.mu.Lock()
	w.f.vol.bury(w.f.snap)
	w.f.snap = w.snap
	w.f.mu.Unlock()
	w.f.vol.mtx.Unlock()

	w.release()
	return nil
}

// Abort discards the staged snapshot. If the file never had a commit its
// entry is removed again, as if OpenCreate had not happened.
func (w *writer) Abort() error {
	if w.closed {
		return volume.ErrAlreadyCommitted
	}
	w.closed = true

	w.f.vol.mtx.Lock()
	w.f.mu.RLock()
	if w.f.snap == nil {
		delete(w.f.vol.files, w.f.path)
	}
	w.f.mu.RUnlock()
	w.f.vol.bury(w.snap)
	w.f.vol.mtx.Unlock()

	w.release()
	return nil
}

func (w *writer) release() {
	w.f.wMtx.Unlock()
	w.f = nil
	w.snap = nil
	w.tail = nil
}
