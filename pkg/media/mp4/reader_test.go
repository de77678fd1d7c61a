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
	"testing"

	mp4ff "github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagare-media/vod/pkg/media"
)

func decodeInit(t *testing.T, tr *media.Track) *mp4ff.MoovBox {
	t.Helper()

	sw, err := NewSegmentWriter(tr)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sw.WriteInit(&buf))

	f, err := mp4ff.DecodeFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.NotNil(t, f.Init)
	return f.Init.Moov
}

func TestTrackFromMoovVideo(t *testing.T) {
	moov := decodeInit(t, testVideoTrack(15360, 8, 512, 8))

	tr, err := TrackFromMoov(moov)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), tr.ID)
	assert.Equal(t, uint32(1), tr.Number)
	assert.Equal(t, media.VideoMediaType, tr.MediaType)
	assert.Equal(t, "avc1.42C01E", tr.Codec)
	assert.Equal(t, "video/mp4", tr.MimeType)
	assert.Equal(t, uint32(15360), tr.Timescale)
	assert.Equal(t, uint32(15360), tr.MediaTimescale)
	assert.Equal(t, testAvcC, tr.CodecPrivate)

	require.NotNil(t, tr.Video)
	assert.Equal(t, uint32(1280), tr.Video.Width)
	assert.Equal(t, uint32(720), tr.Video.Height)
	assert.Equal(t, uint32(1), tr.Video.SARW)
	assert.Equal(t, uint32(1), tr.Video.SARH)
	assert.Nil(t, tr.Audio)
	assert.Empty(t, tr.Samples)
}

func TestTrackFromMoovAudio(t *testing.T) {
	moov := decodeInit(t, testAudioTrack())

	tr, err := TrackFromMoov(moov)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), tr.ID)
	assert.Equal(t, media.AudioMediaType, tr.MediaType)
	assert.Equal(t, "mp4a.40.2", tr.Codec)
	assert.Equal(t, "audio/mp4", tr.MimeType)
	assert.Equal(t, uint32(48000), tr.Timescale)
	assert.Equal(t, testASC, tr.CodecPrivate)

	require.NotNil(t, tr.Audio)
	assert.Equal(t, uint32(48000), tr.Audio.SampleRate)
	assert.Equal(t, uint32(2), tr.Audio.Channels)
	assert.Nil(t, tr.Video)
}

func TestTrackFromMoovRejects(t *testing.T) {
	_, err := TrackFromMoov(&mp4ff.MoovBox{})
	assert.ErrorIs(t, err, ErrNotACMAFHeader)

	// missing decoder configuration
	moov := decodeInit(t, testAudioTrack())
	moov.Trak.Mdia.Minf.Stbl.Stsd.Mp4a.Esds = nil
	_, err = TrackFromMoov(moov)
	assert.ErrorIs(t, err, ErrNotACMAFHeader)
}
