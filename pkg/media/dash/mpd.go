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

package dash

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/nagare-media/vod/pkg/dashif"
	"github.com/nagare-media/vod/pkg/media"
)

const (
	// fixed minimum client buffer advertised in every MPD
	minBufferTime = "PT1.500S"

	periodID     = "period_id"
	startWithSAP = 1
)

type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	XMLNS                     string   `xml:"xmlns,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	Type                      string   `xml:"type,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MaxSegmentDuration        string   `xml:"maxSegmentDuration,attr"`
	Profiles                  string   `xml:"profiles,attr"`

	BaseURL string   `xml:"BaseURL,omitempty"`
	Periods []Period `xml:"Period"`
}

type Period struct {
	ID             string          `xml:"id,attr"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	Representations  []Representation `xml:"Representation"`
}

type Representation struct {
	ID           string `xml:"id,attr"`
	MimeType     string `xml:"mimeType,attr"`
	Codecs       string `xml:"codecs,attr"`
	Bandwidth    uint64 `xml:"bandwidth,attr"`
	StartWithSAP uint32 `xml:"startWithSAP,attr"`

	// video only
	Width     uint32 `xml:"width,attr,omitempty"`
	Height    uint32 `xml:"height,attr,omitempty"`
	FrameRate string `xml:"frameRate,attr,omitempty"`
	SAR       string `xml:"sar,attr,omitempty"`

	// audio only
	AudioSamplingRate         uint32      `xml:"audioSamplingRate,attr,omitempty"`
	AudioChannelConfiguration *Descriptor `xml:"AudioChannelConfiguration,omitempty"`

	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
}

type Descriptor struct {
	SchemeIDURI string `xml:"schemeIdUri,attr"`
	Value       string `xml:"value,attr"`
}

type SegmentTemplate struct {
	Timescale      uint32 `xml:"timescale,attr"`
	Duration       uint64 `xml:"duration,attr"`
	StartNumber    uint64 `xml:"startNumber,attr"`
	Initialization string `xml:"initialization,attr"`
	Media          string `xml:"media,attr"`
}

// NewMPD maps a presentation to a static MPD. Every representation gets its
// own adaptation set; representations without tracks are left out.
func NewMPD(p *media.Presentation) *MPD {
	m := &MPD{
		XMLNS:                     dashif.SchemaMPD2011,
		MinBufferTime:             minBufferTime,
		Type:                      "static",
		MediaPresentationDuration: Duration(p.Duration()).String(),
		MaxSegmentDuration:        Duration(p.ChunkDuration).String(),
		Profiles:                  dashif.ProfileFull2011,
		BaseURL:                   p.BaseURL,
	}

	for i := range p.Periods {
		period := Period{ID: periodID}
		for _, r := range p.Periods[i].SortedRepresentations() {
			tr := r.PrimaryTrack()
			if tr == nil {
				continue
			}
			period.AdaptationSets = append(period.AdaptationSets, AdaptationSet{
				SegmentAlignment: true,
				Representations:  []Representation{newRepresentation(p, r, tr)},
			})
		}
		m.Periods = append(m.Periods, period)
	}

	return m
}

func newRepresentation(p *media.Presentation, r *media.Representation, tr *media.Track) Representation {
	timescale := tr.ManifestTimescale()

	rep := Representation{
		ID:           r.ID,
		MimeType:     tr.MimeType,
		Codecs:       tr.Codec,
		Bandwidth:    tr.Bandwidth,
		StartWithSAP: startWithSAP,
		SegmentTemplate: &SegmentTemplate{
			Timescale:      timescale,
			Duration:       uint64(p.ChunkDuration.Seconds() * float64(timescale)),
			StartNumber:    0,
			Initialization: "init/" + r.ID,
			Media:          "play/" + r.ID + "/" + dashif.TemplateNumber,
		},
	}

	if v := tr.Video; v != nil {
		rep.Width = v.Width
		rep.Height = v.Height
		rep.FrameRate = v.FrameRate()
		rep.SAR = tr.SAR()
	}
	if a := tr.Audio; a != nil {
		rep.AudioSamplingRate = a.SampleRate
		rep.AudioChannelConfiguration = &Descriptor{
			SchemeIDURI: dashif.SchemeAudioChannelConfiguration2011,
			Value:       fmt.Sprintf("%d", a.Channels),
		}
	}

	return rep
}

// Write renders the MPD as indented XML with the usual declaration header.
func (m *MPD) Write(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}
