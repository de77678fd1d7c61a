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

package blob

import (
	"errors"
	"io"
	"os"
	"path"

	"github.com/nagare-media/vod/pkg/volume"
)

var (
	ErrUnknownBucket = errors.New("blob: unknown bucket")
	ErrInvalidKey    = errors.New("blob: invalid key")
	ErrTooLarge      = errors.New("blob: object too large")

	ErrNotExist = os.ErrNotExist
)

// Resolver maps bucket names to their backing volumes.
type Resolver interface {
	Volume(bucket string) (volume.Volume, bool)
}

// MapResolver is a static bucket to volume mapping.
type MapResolver map[string]volume.Volume

func (r MapResolver) Volume(bucket string) (volume.Volume, bool) {
	vol, ok := r[bucket]
	return vol, ok
}

// Store addresses objects as bucket + key pairs on top of volumes.
type Store struct {
	resolver Resolver
}

func NewStore(r Resolver) *Store {
	return &Store{resolver: r}
}

// File returns the object handle without opening it for reading or writing.
func (s *Store) File(bucket, key string) (volume.File, error) {
	vol, ok := s.resolver.Volume(bucket)
	if !ok {
		return nil, ErrUnknownBucket
	}

	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	return vol.Open(name)
}

func (s *Store) Reader(bucket, key string) (volume.FileReader, error) {
	f, err := s.File(bucket, key)
	if err != nil {
		return nil, err
	}
	return f.AcquireReader()
}

// ReadAll reads the whole object. A limit > 0 bounds the accepted object
// size; larger objects return ErrTooLarge.
func (s *Store) ReadAll(bucket, key string, limit int64) ([]byte, error) {
	fr, err := s.Reader(bucket, key)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	if limit <= 0 {
		return io.ReadAll(fr)
	}

	buf, err := io.ReadAll(io.LimitReader(fr, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, ErrTooLarge
	}
	return buf, nil
}

// ReadRange reads length bytes starting at off. off == 0 and length == 0
// reads the whole object.
func (s *Store) ReadRange(bucket, key string, off, length uint64) ([]byte, error) {
	if off == 0 && length == 0 {
		return s.ReadAll(bucket, key, 0)
	}

	fr, err := s.Reader(bucket, key)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	if off > 0 {
		if _, err = fr.Seek(int64(off), io.SeekStart); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, length)
	if _, err = io.ReadFull(fr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Writer opens the object for writing, creating it if necessary. The caller
// must Commit or Abort the returned writer.
func (s *Store) Writer(bucket, key string) (volume.FileWriter, error) {
	vol, ok := s.resolver.Volume(bucket)
	if !ok {
		return nil, ErrUnknownBucket
	}

	name, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	f, err := vol.OpenCreate(name)
	if err != nil {
		return nil, err
	}
	return f.AcquireWriter()
}

func (s *Store) Delete(bucket, key string) error {
	vol, ok := s.resolver.Volume(bucket)
	if !ok {
		return ErrUnknownBucket
	}

	name, err := cleanKey(key)
	if err != nil {
		return err
	}

	return vol.Delete(name)
}

// cleanKey normalizes key to a rooted path within the volume. Empty keys and
// keys escaping the volume root are rejected.
func cleanKey(key string) (string, error) {
	name := path.Clean("/" + key)
	if name == "/" {
		return "", ErrInvalidKey
	}
	return name, nil
}
