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
	"bytes"
	"io"
	"testing"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoxHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, boxHeaderLen+largeSizeLen)
	hdr := &mp4ff.BoxHeader{Name: "moof", Size: 1234}

	n, err := EncodeHeader(hdr, buf)
	require.NoError(t, err)
	assert.Equal(t, boxHeaderLen, n)

	var dec mp4ff.BoxHeader
	require.NoError(t, DecodeHeader(&dec, bytes.NewReader(buf[:n])))
	assert.Equal(t, "moof", dec.Name)
	assert.Equal(t, uint64(1234), dec.Size)
	assert.Equal(t, boxHeaderLen, dec.Hdrlen)
}

func TestBoxHeaderLargeSize(t *testing.T) {
	buf := make([]byte, boxHeaderLen+largeSizeLen)
	hdr := &mp4ff.BoxHeader{Name: "mdat", Size: 1 << 33}

	n, err := EncodeHeader(hdr, buf)
	require.NoError(t, err)
	assert.Equal(t, boxHeaderLen+largeSizeLen, n)

	var dec mp4ff.BoxHeader
	require.NoError(t, DecodeHeader(&dec, bytes.NewReader(buf[:n])))
	assert.Equal(t, "mdat", dec.Name)
	assert.Equal(t, uint64(1)<<33, dec.Size)
	assert.Equal(t, boxHeaderLen+largeSizeLen, dec.Hdrlen)
}

func TestEncodeHeaderShortBuffer(t *testing.T) {
	hdr := &mp4ff.BoxHeader{Name: "mdat", Size: 8}
	_, err := EncodeHeader(hdr, make([]byte, boxHeaderLen))
	assert.ErrorIs(t, err, io.ErrShortBuffer)
}

func TestDecodeHeaderEmptyStream(t *testing.T) {
	var dec mp4ff.BoxHeader
	err := DecodeHeader(&dec, bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}
