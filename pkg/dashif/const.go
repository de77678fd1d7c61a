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

package dashif

// MPEG-DASH identifiers (ISO/IEC 23009-1)
const (
	SchemaMPD2011   = "urn:mpeg:dash:schema:mpd:2011"
	ProfileFull2011 = "urn:mpeg:dash:profile:full:2011"
)

// MPEG-DASH scheme identifiers used in descriptors
const (
	SchemeAudioChannelConfiguration2011 = "urn:mpeg:dash:23003:3:audio_channel_configuration:2011"
)

// SegmentTemplate URL template identifiers
const (
	TemplateNumber = "$Number$"
)
