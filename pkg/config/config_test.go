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

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
)

const testConfigYAML = `
apiVersion: vod.nagare.media/v1alpha1

volumes:
  - name: scratch
    mem:
      blockSize: 64KB
      garbageCollectionPeriod: 30s
  - name: origin
    fs:
      path: /var/lib/vod
      readOnly: true

buckets:
  - name: vod
    volumeRef:
      name: origin

servers:
  - name: main
    http:
      address: ":8080"
      readTimeout: 10s
      writeTimeout: 1m
      bodyLimit: 2GB
    apps:
      - name: engine
        http:
          host: "*.cdn.example"
          path: /vod
        vodServe:
          bucketRefs:
            - name: vod
          chunkDuration: 10s
          presentations:
            - name: movie
              baseURL: http://cdn.example/movie/
              periods:
                - adaptations:
                    - representations: [v0]
              representations:
                - id: v0
                  tracks:
                    - bucketRef:
                        name: vod
                      key: movie.mp4
                      track: 1
        functions:
          - name: cleanup
            expire:
              schedule: 1m
              age: 24h
              volumeRefs:
                - name: scratch
              files:
                - "**.m4s"
`

func unmarshalYAML(t *testing.T, y string) (v1alpha1.Config, error) {
	t.Helper()

	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(y)))

	cfg := v1alpha1.Config{}
	err := UnmarshalExact(v, &cfg)
	return cfg, err
}

func TestUnmarshalExact(t *testing.T) {
	cfg, err := unmarshalYAML(t, testConfigYAML)
	require.NoError(t, err)

	assert.Equal(t, v1alpha1.APIVersion, cfg.APIVersion)

	require.Len(t, cfg.Volumes, 2)
	require.NotNil(t, cfg.Volumes[0].Memory)
	assert.Equal(t, 64*bytesize.KB, cfg.Volumes[0].Memory.BlockSize)
	assert.Equal(t, 30*time.Second, cfg.Volumes[0].Memory.GarbageCollectionPeriod)
	require.NotNil(t, cfg.Volumes[1].FileSystem)
	assert.Equal(t, "/var/lib/vod", cfg.Volumes[1].FileSystem.Path)
	assert.True(t, cfg.Volumes[1].FileSystem.ReadOnly)

	require.Len(t, cfg.Buckets, 1)
	assert.Equal(t, "vod", cfg.Buckets[0].Name)
	assert.Equal(t, "origin", cfg.Buckets[0].VolumeRef.Name)

	require.Len(t, cfg.Servers, 1)
	srv := cfg.Servers[0]
	require.NotNil(t, srv.HTTP)
	assert.Equal(t, ":8080", srv.HTTP.Address)
	assert.Equal(t, 10*time.Second, srv.HTTP.ReadTimeout)
	assert.Equal(t, time.Minute, srv.HTTP.WriteTimeout)
	assert.Equal(t, 2*bytesize.GB, srv.HTTP.BodyLimit)

	require.Len(t, srv.Apps, 1)
	app := srv.Apps[0]
	require.NotNil(t, app.HTTP)
	assert.Equal(t, "*.cdn.example", app.HTTP.Host)
	assert.Equal(t, "/vod", app.HTTP.Path)

	require.NotNil(t, app.VODServe)
	assert.Equal(t, 10*time.Second, app.VODServe.ChunkDuration)
	require.Len(t, app.VODServe.Presentations, 1)
	p := app.VODServe.Presentations[0]
	assert.Equal(t, "movie", p.Name)
	require.Len(t, p.Periods, 1)
	require.Len(t, p.Periods[0].Adaptations, 1)
	assert.Equal(t, []string{"v0"}, p.Periods[0].Adaptations[0].Representations)
	require.Len(t, p.Representations, 1)
	require.Len(t, p.Representations[0].Tracks, 1)
	tr := p.Representations[0].Tracks[0]
	assert.Equal(t, "vod", tr.BucketRef.Name)
	assert.Equal(t, "movie.mp4", tr.Key)
	assert.Equal(t, uint32(1), tr.Track)

	require.Len(t, app.Functions, 1)
	fn := app.Functions[0]
	require.NotNil(t, fn.Expire)
	assert.Equal(t, "1m", fn.Expire.Schedule)
	assert.Equal(t, 24*time.Hour, fn.Expire.Age)
	assert.Equal(t, []string{"**.m4s"}, fn.Expire.Files)
}

func TestUnmarshalExactRejectsUnknownKeys(t *testing.T) {
	_, err := unmarshalYAML(t, `
volumes:
  - name: scratch
    mem: {}
    unexpectedKey: true
`)
	assert.Error(t, err)
}

func TestUnmarshalExactRejectsInvalidByteSize(t *testing.T) {
	_, err := unmarshalYAML(t, `
servers:
  - name: main
    http:
      address: ":8080"
      bodyLimit: lots
`)
	assert.Error(t, err)
}
