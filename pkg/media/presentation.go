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

package media

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/nagare-media/vod/pkg/config/v1alpha1"
)

var (
	PresentationNameRegex = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
	RepresentationIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)
)

// ResolveMediaFunc loads the side-car descriptor of an asset.
type ResolveMediaFunc func(ctx context.Context, bucket, key string) (*Media, error)

// Presentation is an immutable arrangement of representations into periods.
// It is assembled from configuration when an application starts and is shared
// between requests without locking.
type Presentation struct {
	Name          string
	BaseURL       string
	ChunkDuration time.Duration

	Periods []Period

	reprs map[string]*Representation
}

// Period groups the adaptations presented during one time interval.
type Period struct {
	Adaptations []Adaptation
}

// Adaptation is a set of representations a client can switch between.
type Adaptation struct {
	Representations []*Representation
}

// Representation is one encoding of the content, addressed by ID in manifest
// and segment URLs. Its content is the concatenation of one or more track
// requests; segment numbers run consecutively across them. Tracks are private
// copies so that per-presentation duration overrides never reach the shared
// media cache.
type Representation struct {
	ID      string
	Tracks  []*Track
	Sources []TrackSource // parallel to Tracks
}

// TrackSource locates the asset a track reads its sample bytes from.
type TrackSource struct {
	Bucket string
	Key    string
}

// NewPresentation resolves cfg into a Presentation. defaultChunk applies when
// the configuration sets no chunk duration. All referenced media is loaded
// through resolve.
func NewPresentation(ctx context.Context, cfg v1alpha1.Presentation, defaultChunk time.Duration, resolve ResolveMediaFunc) (*Presentation, error) {
	chunk := cfg.ChunkDuration
	if chunk <= 0 {
		chunk = defaultChunk
	}
	if chunk <= 0 {
		return nil, fmt.Errorf("media: presentation %s: no chunk duration", cfg.Name)
	}

	p := &Presentation{
		Name:          cfg.Name,
		BaseURL:       cfg.BaseURL,
		ChunkDuration: chunk,
		reprs:         make(map[string]*Representation, len(cfg.Representations)),
	}

	for _, rcfg := range cfg.Representations {
		if _, ok := p.reprs[rcfg.ID]; ok {
			return nil, fmt.Errorf("media: presentation %s: duplicate representation %s", cfg.Name, rcfg.ID)
		}

		r := &Representation{ID: rcfg.ID}
		for _, tcfg := range rcfg.Tracks {
			m, err := resolve(ctx, tcfg.BucketRef.Name, tcfg.Key)
			if err != nil {
				return nil, fmt.Errorf("media: presentation %s: representation %s: %w", cfg.Name, rcfg.ID, err)
			}

			nr := tcfg.Track
			if nr == 0 {
				nr = 1
			}
			src, err := m.Track(nr)
			if err != nil {
				return nil, fmt.Errorf("media: presentation %s: representation %s: %w", cfg.Name, rcfg.ID, err)
			}

			tr := *src
			if tcfg.Duration > 0 {
				tr.Duration = ticks(tcfg.Duration, tr.Timescale)
			}
			r.Tracks = append(r.Tracks, &tr)
			r.Sources = append(r.Sources, TrackSource{Bucket: tcfg.BucketRef.Name, Key: tcfg.Key})
		}

		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("media: presentation %s: representation %s: %w", cfg.Name, rcfg.ID, err)
		}
		p.reprs[rcfg.ID] = r
	}

	for _, pcfg := range cfg.Periods {
		period := Period{}
		for _, acfg := range pcfg.Adaptations {
			a := Adaptation{}
			for _, id := range acfg.Representations {
				r, ok := p.reprs[id]
				if !ok {
					return nil, fmt.Errorf("media: presentation %s: unknown representation %s: %w", cfg.Name, id, ErrNotFound)
				}
				a.Representations = append(a.Representations, r)
			}
			period.Adaptations = append(period.Adaptations, a)
		}
		p.Periods = append(p.Periods, period)
	}

	return p, nil
}

// validate rejects track request combinations one representation cannot
// serve: all requests must describe continuations of the same elementary
// stream so that a single init segment covers all of them.
func (r *Representation) validate() error {
	if len(r.Tracks) <= 1 {
		return nil
	}
	first := r.Tracks[0]
	for _, tr := range r.Tracks[1:] {
		if tr.MediaType != first.MediaType {
			return fmt.Errorf("%w: media type %s vs %s", ErrIncompatibleTracks, tr.MediaType, first.MediaType)
		}
		if tr.Codec != first.Codec {
			return fmt.Errorf("%w: codec %s vs %s", ErrIncompatibleTracks, tr.Codec, first.Codec)
		}
		if tr.Timescale != first.Timescale {
			return fmt.Errorf("%w: timescale %d vs %d", ErrIncompatibleTracks, tr.Timescale, first.Timescale)
		}
		if !bytes.Equal(tr.CodecPrivate, first.CodecPrivate) {
			return fmt.Errorf("%w: codec private data differs", ErrIncompatibleTracks)
		}
		if tr.Audio != nil && first.Audio != nil && tr.Audio.SampleRate != first.Audio.SampleRate {
			return fmt.Errorf("%w: sample rate %d vs %d", ErrIncompatibleTracks, tr.Audio.SampleRate, first.Audio.SampleRate)
		}
		if tr.Video != nil && first.Video != nil &&
			(tr.Video.Width != first.Video.Width || tr.Video.Height != first.Video.Height) {
			return fmt.Errorf("%w: resolution %dx%d vs %dx%d", ErrIncompatibleTracks,
				tr.Video.Width, tr.Video.Height, first.Video.Width, first.Video.Height)
		}
	}
	return nil
}

// Representation resolves a representation by ID.
func (p *Presentation) Representation(id string) (*Representation, error) {
	r, ok := p.reprs[id]
	if !ok {
		return nil, fmt.Errorf("media: representation %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// SortedRepresentations returns all representations of the presentation in
// lexicographic ID order. Manifests iterate in this order so output stays
// byte-identical between runs.
func (p *Presentation) SortedRepresentations() []*Representation {
	rs := make([]*Representation, 0, len(p.reprs))
	for _, r := range p.reprs {
		rs = append(rs, r)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	return rs
}

// SortedRepresentations returns the representations of all adaptations of
// the period in lexicographic ID order.
func (p *Period) SortedRepresentations() []*Representation {
	var rs []*Representation
	for _, a := range p.Adaptations {
		rs = append(rs, a.Representations...)
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
	return rs
}

// Duration returns the presentation duration, i.e. the longest effective
// track duration over all representations.
func (p *Presentation) Duration() time.Duration {
	var max time.Duration
	for _, r := range p.reprs {
		if d := r.Duration(); d > max {
			max = d
		}
	}
	return max
}

// Duration returns the effective duration of the representation: the sum of
// the effective durations of its track requests.
func (r *Representation) Duration() time.Duration {
	var sum time.Duration
	for _, tr := range r.Tracks {
		if tr.Timescale == 0 {
			continue
		}
		sum += time.Duration(float64(tr.Duration) / float64(tr.Timescale) * float64(time.Second))
	}
	return sum
}

// PrimaryTrack returns the first track request's track. It describes the
// whole representation: validate ensures all further track requests are
// continuations of the same elementary stream.
func (r *Representation) PrimaryTrack() *Track {
	if len(r.Tracks) == 0 {
		return nil
	}
	return r.Tracks[0]
}

// Track returns the 1-based track of the representation.
func (r *Representation) Track(number uint32) (*Track, error) {
	if number < 1 || int(number) > len(r.Tracks) {
		return nil, fmt.Errorf("media: representation %s: no track %d: %w", r.ID, number, ErrNotFound)
	}
	return r.Tracks[number-1], nil
}

// SegmentCount returns the total number of segments over all track requests
// of the representation.
func (r *Representation) SegmentCount(chunk time.Duration) uint64 {
	var n uint64
	for _, tr := range r.Tracks {
		n += tr.SegmentCount(chunk)
	}
	return n
}

// TrackForSegment maps a representation wide segment number onto the track
// request covering it. It returns the track, the asset it reads from and the
// segment number local to that track's timeline. Numbers are assigned
// consecutively: a track request starts at the cumulative segment count of
// its predecessors.
func (r *Representation) TrackForSegment(number uint64, chunk time.Duration) (*Track, TrackSource, uint64, error) {
	base := uint64(0)
	for i, tr := range r.Tracks {
		n := tr.SegmentCount(chunk)
		if number < base+n {
			return tr, r.Sources[i], number - base, nil
		}
		base += n
	}
	return nil, TrackSource{}, 0, fmt.Errorf("media: representation %s: no segment %d: %w", r.ID, number, ErrNotFound)
}

// SegmentCount returns the number of chunk sized segments needed to cover
// the track, counting a trailing partial chunk as one segment.
func (t *Track) SegmentCount(chunk time.Duration) uint64 {
	ct := ticks(chunk, t.Timescale)
	if ct == 0 || t.Duration == 0 {
		return 0
	}
	return (t.Duration + ct - 1) / ct
}

// SegmentWindow returns the DTS window [start, end) of chunk sized segment
// number n, counted from zero.
func (t *Track) SegmentWindow(n uint64, chunk time.Duration) (dtsStart, dtsEnd uint64) {
	ct := ticks(chunk, t.Timescale)
	return n * ct, (n + 1) * ct
}

func ticks(d time.Duration, timescale uint32) uint64 {
	return uint64(d.Seconds() * float64(timescale))
}
