/*
Copyright 2022 The nagare media authors

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

// Package mime maps between MIME types and file extensions of media
// formats.
package mime

import "slices"

// Normalize maps t to the canonical MIME type for its format.
func Normalize(t string) string {
	if nt, ok := normalized[t]; ok {
		return nt
	}
	return t
}

// NormalizeExt is like Normalize but falls back to the preferred type of
// ext for unknown t.
func NormalizeExt(t string, ext string) string {
	if nt, ok := normalized[t]; ok {
		return nt
	}
	if pt := PreferredTypeExt(ext); pt != "" {
		return pt
	}
	return t
}

// TypesExt lists all MIME types associated with ext, preferred first.
func TypesExt(ext string) []string {
	return extToTypes[ext]
}

// PreferredTypeExt reports the preferred MIME type for ext or "".
func PreferredTypeExt(ext string) string {
	if ts, ok := extToTypes[ext]; ok {
		return ts[0]
	}
	return ""
}

// MatchExt reports whether t is a known MIME type for ext.
func MatchExt(t string, ext string) bool {
	return slices.Contains(extToTypes[ext], t)
}

const (
	ApplicationDASH_XML        = "application/dash+xml"
	ApplicationMP4             = "application/mp4"
	ApplicationOctetStream     = "application/octet-stream"
	ApplicationVndAppleMPEGURL = "application/vnd.apple.mpegurl"
	AudioMP4                   = "audio/mp4"
	AudioWebM                  = "audio/webm"
	VideoISOSegment            = "video/iso.segment"
	VideoMP2T                  = "video/MP2T"
	VideoMP4                   = "video/mp4"
	VideoWebM                  = "video/webm"
)

var (
	normalized = map[string]string{
		// RFC 8216 only allows "audio/mpegurl" and "application/vnd.apple.mpegurl"
		// Other MIME types are used according to https://en.wikipedia.org/wiki/M3U
		"application/mpegurl":                 ApplicationVndAppleMPEGURL,
		"application/vnd.apple.mpegurl.audio": ApplicationVndAppleMPEGURL,
		"application/x-mpegurl":               ApplicationVndAppleMPEGURL,
		"audio/mpegurl":                       ApplicationVndAppleMPEGURL,
		"audio/x-mpegurl":                     ApplicationVndAppleMPEGURL,
	}

	extToTypes = map[string][]string{
		".cmfa":   {AudioMP4},
		".cmfm":   {ApplicationMP4},
		".cmft":   {ApplicationMP4},
		".cmfv":   {VideoMP4},
		".header": {VideoMP4},
		".init":   {VideoMP4},
		".key":    {ApplicationOctetStream},
		".m3u":    {ApplicationVndAppleMPEGURL},
		".m3u8":   {ApplicationVndAppleMPEGURL},
		".m4a":    {AudioMP4},
		".m4s":    {VideoISOSegment},
		".m4v":    {VideoMP4},
		".meta":   {ApplicationOctetStream},
		".mp4":    {VideoMP4, ApplicationMP4},
		".mpd":    {ApplicationDASH_XML},
		".ts":     {VideoMP2T},
		".weba":   {AudioWebM},
		".webm":   {VideoWebM},
	}
)
