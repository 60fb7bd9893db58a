// Package media classifies kiosk media and turns shared-drive links into
// URLs the kiosk page can render directly.
package media

import (
	"path/filepath"
	"strings"
)

// Kind is the declared media kind of a content item.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// SupportedImageExtensions maps accepted image upload extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// SupportedVideoExtensions maps accepted video upload extensions to MIME types.
var SupportedVideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// IsImage returns true if the extension is a supported image format.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsVideo returns true if the extension is a supported video format.
func IsVideo(ext string) bool {
	_, ok := SupportedVideoExtensions[strings.ToLower(ext)]
	return ok
}

// KindFromUpload picks the media kind of an uploaded file. A video/* content
// type wins; without a content type the file extension decides. Anything
// else is treated as an image.
func KindFromUpload(filename, contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.HasPrefix(ct, "video/") {
		return KindVideo
	}
	if ct == "" || ct == "application/octet-stream" {
		if IsVideo(filepath.Ext(filename)) {
			return KindVideo
		}
	}
	return KindImage
}

// ContentTypeFor returns the MIME type for an upload, preferring the
// declared content type and falling back to the extension tables.
func ContentTypeFor(filename, contentType string) string {
	if ct := strings.TrimSpace(contentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if mime, ok := SupportedImageExtensions[ext]; ok {
		return mime
	}
	if mime, ok := SupportedVideoExtensions[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}
