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

package http

import (
	"regexp"

	"github.com/gofiber/fiber/v2"
)

// Keys for request scoped values in fiber locals.
const (
	OriginalPathKey        = "vod.nagare.media/original-path"
	HostPatternKey         = "vod.nagare.media/host-pattern"
	HostMatchTypeKey       = "vod.nagare.media/host-match-type"
	HostGlobSearchIndexKey = "vod.nagare.media/host-glob-search-index"
	InInternalRedirectKey  = "vod.nagare.media/in-internal-redirect"
	RequestIDKey           = "vod.nagare.media/request-id"
)

var (
	ErrNotAFileStream                = fiber.NewError(fiber.StatusBadRequest, "Not A File Stream")
	ErrUnsupportedFileExtension      = fiber.NewError(fiber.StatusUnsupportedMediaType, "Unsupported File Extension")
	ErrUnsupportedPresentationName   = fiber.NewError(fiber.StatusBadRequest, "Unsupported Presentation Name")
	ErrUnsupportedRepresentationName = fiber.NewError(fiber.StatusBadRequest, "Unsupported Representation Name")
	ErrUnsupportedUploadPath         = fiber.NewError(fiber.StatusBadRequest, "Unsupported Upload Path")
)

var (
	UploadPathRegex       = regexp.MustCompile("^/[^,;:?'\"[\\]{}@*\\\\&#%`^+<=>|~$\\x00-\\x1F\\x7F\\t\\n\\f\\r ]+$")
	PathIllegalCharsRegex = regexp.MustCompile("[,;:?'\"[\\]{}@*\\\\&#%`^+<=>|~$\\x00-\\x1F\\x7F\\t\\n\\f\\r ]")
	PathIllegalReplaceStr = "_"
)

// NextIfInInternalRedirect reports whether c went through an internal
// redirect. Middlewares use it as Next condition so they run once per
// request.
func NextIfInInternalRedirect(c *fiber.Ctx) bool {
	inRedirect, ok := c.Locals(InInternalRedirectKey).(bool)
	return ok && inRedirect
}

// NoContentHandler responds with 204 No Content.
func NoContentHandler(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
