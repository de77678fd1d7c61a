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

package mp4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
)

var (
	ErrNotACMAFHeader     = errors.New("not a CMAF header")
	ErrNotACMAFChunk      = errors.New("not a CMAF chunk")
	ErrNotACMAFFragment   = errors.New("not a CMAF fragment")
	ErrTrackUninitialized = errors.New("track is uninitialized")
)

const (
	boxSizeLen   = 4
	boxNameLen   = 4
	boxHeaderLen = boxSizeLen + boxNameLen
	largeSizeLen = 8

	hdrDecBufSize = 8 // = max(boxHeaderLen, largeSizeLen)
)

// TODO: benchmark whether pooling an 8 byte buffer pays off
var hdrDecBufPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, hdrDecBufSize)
	},
}

// DecodeHeader reads a box header from r. Unlike the mp4ff decoder it does
// not allocate per call.
func DecodeHeader(hdr *mp4ff.BoxHeader, r io.Reader) error {
	buf := hdrDecBufPool.Get().([]byte)
	defer hdrDecBufPool.Put(buf) // nolint

	if _, err := io.ReadFull(r, buf[:boxHeaderLen]); err != nil {
		return err
	}

	size := uint64(binary.BigEndian.Uint32(buf[:boxSizeLen]))
	name := string(buf[boxSizeLen:boxHeaderLen])
	headerLen := boxHeaderLen

	switch size {
	case 0:
		// size 0 means the box extends to the end of the file
		return errors.New("box without explicit size not supported")
	case 1:
		// name bytes are copied out already, the buffer can hold the
		// 64-bit size
		if _, err := io.ReadFull(r, buf[:largeSizeLen]); err != nil {
			return err
		}
		size = binary.BigEndian.Uint64(buf[:largeSizeLen])
		headerLen += largeSizeLen
	}

	hdr.Name = name
	hdr.Size = size
	hdr.Hdrlen = headerLen
	return nil
}

// EncodeHeader writes hdr into buf and reports the number of bytes written.
// Sizes of 2^32 and above are written as a 64-bit largesize field.
func EncodeHeader(hdr *mp4ff.BoxHeader, buf []byte) (n int, err error) {
	if len(buf) < boxHeaderLen+largeSizeLen {
		return 0, io.ErrShortBuffer
	}
	if len(hdr.Name) != boxNameLen {
		return 0, fmt.Errorf("box name %q must be %d bytes", hdr.Name, boxNameLen)
	}

	size32 := uint32(hdr.Size)
	large := hdr.Size >= 1<<32
	if large {
		size32 = 1 // signals a following largesize field
	}

	binary.BigEndian.PutUint32(buf[:boxSizeLen], size32)
	n = boxSizeLen
	n += copy(buf[n:n+boxNameLen], hdr.Name)
	if large {
		binary.BigEndian.PutUint64(buf[n:n+largeSizeLen], hdr.Size)
		n += largeSizeLen
	}
	return n, nil
}

const (
	Avc1BoxStr = "avc1"
	Avc3BoxStr = "avc3"
	EmsgBoxStr = "emsg"
	FreeBoxStr = "free"
	FtypBoxStr = "ftyp"
	Hev1BoxStr = "hev1"
	Hvc1BoxStr = "hvc1"
	MdatBoxStr = "mdat"
	MfraBoxStr = "mfra"
	MoofBoxStr = "moof"
	MoovBoxStr = "moov"
	Mp4aBoxStr = "mp4a"
	PrftBoxStr = "prft"
	SidxBoxStr = "sidx"
	SkipBoxStr = "skip"
	StypBoxStr = "styp"
)
