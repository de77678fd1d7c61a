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

package v1alpha1

import (
	"time"

	"github.com/inhies/go-bytesize"
)

type App struct {
	Name      string     `mapstructure:"name"`
	Functions []Function `mapstructure:"functions,omitempty"`

	HTTP *HTTPApp `mapstructure:"http,omitempty"`

	GenericServe *GenericServe `mapstructure:"genericServe,omitempty"`
	VODServe     *VODServe     `mapstructure:"vodServe,omitempty"`

	MediaIngest *MediaIngest `mapstructure:"mediaIngest,omitempty"`
	BlobIngest  *BlobIngest  `mapstructure:"blobIngest,omitempty"`
}

type HTTPApp struct {
	Host string `mapstructure:"host,omitempty"`
	Path string `mapstructure:"path,omitempty"`
	Auth *Auth  `mapstructure:"auth,omitempty"`
	CORS *CORS  `mapstructure:"cors,omitempty"`
}

type Auth struct {
	Basic  *BasicAuth  `mapstructure:"basic,omitempty"`
	Digest *DigestAuth `mapstructure:"digest,omitempty"`
	Bearer *BearerAuth `mapstructure:"bearer,omitempty"`
}

type BasicAuth struct {
	Users []User `mapstructure:"users"`
}

type DigestAuth struct {
	Realm string `mapstructure:"realm"`
	Users []User `mapstructure:"users"`
}

type User struct {
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

type BearerAuth struct {
	Tokens []Token `mapstructure:"tokens"`
}

type Token struct {
	Name string `mapstructure:"name"`
}

type CORS struct {
	AllowOrigins     string `mapstructure:"AllowOrigins,omitempty"`
	AllowMethods     string `mapstructure:"AllowMethods,omitempty"`
	AllowHeaders     string `mapstructure:"AllowHeaders,omitempty"`
	AllowCredentials bool   `mapstructure:"AllowCredentials,omitempty"`
	ExposeHeaders    string `mapstructure:"ExposeHeaders,omitempty"`
	MaxAge           int    `mapstructure:"MaxAge,omitempty"`
}

// GenericServe serves raw objects from buckets, e.g. pre-ingested init
// segments or manifests that need no server-side processing.
type GenericServe struct {
	BucketRefs []Reference `mapstructure:"bucketRefs"`

	DefaultContentType string `mapstructure:"defaultContentType,omitempty"`
	UseXAccelHeader    bool   `mapstructure:"useXAccelHeader,omitempty"`
	UseXSendfileHeader bool   `mapstructure:"useXSendfileHeader,omitempty"`
}

// VODServe is the DASH/HLS VOD engine: manifests generated from configured
// presentations plus on-demand fMP4 init and media segments sliced out of
// ingested assets.
type VODServe struct {
	BucketRefs []Reference `mapstructure:"bucketRefs"`

	MetadataSuffix   string            `mapstructure:"metadataSuffix,omitempty"`
	ChunkDuration    time.Duration     `mapstructure:"chunkDuration,omitempty"`
	FragmentDuration time.Duration     `mapstructure:"fragmentDuration,omitempty"`
	MaxMetadataSize  bytesize.ByteSize `mapstructure:"maxMetadataSize,omitempty"`

	Cache MetadataCache `mapstructure:"cache,omitempty"`

	Presentations []Presentation `mapstructure:"presentations,omitempty"`
}

type MetadataCache struct {
	MaxEntries int           `mapstructure:"maxEntries,omitempty"`
	TTL        time.Duration `mapstructure:"ttl,omitempty"`
}

// Presentation describes one published VOD asset composition. The engine
// builds manifests from it and maps segment numbers back onto track requests.
type Presentation struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"baseURL"`

	ChunkDuration time.Duration `mapstructure:"chunkDuration,omitempty"`

	Periods         []Period         `mapstructure:"periods"`
	Representations []Representation `mapstructure:"representations"`
}

type Period struct {
	Adaptations []Adaptation `mapstructure:"adaptations"`
}

type Adaptation struct {
	Representations []string `mapstructure:"representations"`
}

type Representation struct {
	ID     string         `mapstructure:"id"`
	Tracks []TrackRequest `mapstructure:"tracks"`
}

type TrackRequest struct {
	BucketRef Reference `mapstructure:"bucketRef"`
	Key       string    `mapstructure:"key"`

	Track    uint32        `mapstructure:"track,omitempty"`    // 1-based track number
	Duration time.Duration `mapstructure:"duration,omitempty"` // defaults to the track duration from metadata
}

// MediaIngest accepts fragmented MP4 uploads, stores the asset bytes and
// writes the side-car sample metadata the VOD engine reads back.
type MediaIngest struct {
	BucketRef Reference `mapstructure:"bucketRef"`

	MetadataSuffix     string            `mapstructure:"metadataSuffix,omitempty"`
	MaxHeaderSize      bytesize.ByteSize `mapstructure:"maxHeaderSize,omitempty"`
	MaxChunkHeaderSize bytesize.ByteSize `mapstructure:"maxChunkHeaderSize,omitempty"`
	MaxChunkMdatSize   bytesize.ByteSize `mapstructure:"maxChunkMdatSize,omitempty"`
}

// BlobIngest accepts raw object uploads (assets, side-car metadata produced
// offline, manifests) into buckets.
type BlobIngest struct {
	BucketRefs []Reference `mapstructure:"bucketRefs"`

	RequestBodyBufferSize bytesize.ByteSize `mapstructure:"requestBodyBufferSize,omitempty"`
	MaxManifestSize       bytesize.ByteSize `mapstructure:"maxManifestSize,omitempty"`
	MaxSegmentSize        bytesize.ByteSize `mapstructure:"maxSegmentSize,omitempty"`
	MaxMetadataSize       bytesize.ByteSize `mapstructure:"maxMetadataSize,omitempty"`
	MaxObjectSize         bytesize.ByteSize `mapstructure:"maxObjectSize,omitempty"`
}
