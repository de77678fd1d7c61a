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

package hls

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nagare-media/vod/pkg/media"
)

// ErrMultiPeriod is returned for presentations that do not consist of
// exactly one period. HLS output has no period concept.
var ErrMultiPeriod = errors.New("hls: presentation does not consist of exactly one period")

const noneGroup = "none"

// WriteMaster writes the master playlist of p. Every audio and video
// representation is announced as a rendition; every representation is then
// crossed with the rendition groups into stream variants.
func WriteMaster(w io.Writer, p *media.Presentation) error {
	if len(p.Periods) != 1 {
		return ErrMultiPeriod
	}
	period := &p.Periods[0]

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	var audioGroups, videoGroups []string

	for ai, a := range period.Adaptations {
		for _, r := range a.Representations {
			tr := r.PrimaryTrack()
			if tr == nil {
				continue
			}

			uri := p.BaseURL + "playlist/" + r.ID
			name := fmt.Sprintf("adaptation-%d", ai+1)

			switch tr.MediaType {
			case media.AudioMediaType:
				gid := fmt.Sprintf("audio-%d", len(audioGroups))
				fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"%s\",NAME=\"%s\",AUTOSELECT=YES,URI=\"%s\"\n", gid, name, uri)
				audioGroups = append(audioGroups, gid)
			case media.VideoMediaType:
				gid := fmt.Sprintf("video-%d", len(videoGroups))
				fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=VIDEO,GROUP-ID=\"%s\",NAME=\"%s\",AUTOSELECT=YES,URI=\"%s\"\n", gid, name, uri)
				videoGroups = append(videoGroups, gid)
			}
		}
	}

	// cross products still run for missing media types
	audioRefs := audioGroups
	if len(audioRefs) == 0 {
		audioRefs = []string{noneGroup}
	}
	videoRefs := videoGroups
	if len(videoRefs) == 0 {
		videoRefs = []string{noneGroup}
	}

	for _, a := range period.Adaptations {
		for _, r := range a.Representations {
			tr := r.PrimaryTrack()
			if tr == nil {
				continue
			}

			for _, ga := range audioRefs {
				for _, gv := range videoRefs {
					fmt.Fprintf(&b, "#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=%d,CODECS=\"%s\"", tr.Bandwidth, Codec(tr.Codec))
					if tr.Video != nil {
						fmt.Fprintf(&b, ",RESOLUTION=%s", tr.Resolution())
					}
					if ga != noneGroup {
						fmt.Fprintf(&b, ",AUDIO=\"%s\"", ga)
					}
					if gv != noneGroup {
						fmt.Fprintf(&b, ",VIDEO=\"%s\"", gv)
					}
					b.WriteByte('\n')
					b.WriteString(p.BaseURL + "playlist/" + r.ID + "\n")
				}
			}
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteVariant writes the media playlist of representation r: one entry per
// chunk sized segment of each track request, numbered consecutively across
// track requests, closed by an ENDLIST tag.
func WriteVariant(w io.Writer, p *media.Presentation, r *media.Representation) error {
	if len(p.Periods) != 1 {
		return ErrMultiPeriod
	}

	chunkSec := p.ChunkDuration.Seconds()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%s\n", formatSeconds(chunkSec))

	number := uint64(0)
	for _, tr := range r.Tracks {
		n := tr.SegmentCount(p.ChunkDuration)
		durSec := tr.DurationSeconds()
		for i := uint64(0); i < n; i++ {
			d := chunkSec
			if i == n-1 {
				d = durSec - chunkSec*float64(n-1)
			}
			fmt.Fprintf(&b, "#EXTINF:%s,\n", formatSeconds(d))
			fmt.Fprintf(&b, "%splay/%s/%d\n", p.BaseURL, r.ID, number)
			number++
		}
	}

	b.WriteString("#EXT-X-ENDLIST")

	_, err := io.WriteString(w, b.String())
	return err
}

// Codec translates an RFC 6381 codec string into its HLS form: avc3 streams
// are advertised as avc1.
func Codec(codec string) string {
	if strings.HasPrefix(codec, "avc3") {
		return "avc1" + codec[len("avc3"):]
	}
	return codec
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
