package media

import (
	"net/url"
	"regexp"
	"strings"
)

// DriveHost is the shared-drive host whose links need rewriting.
const DriveHost = "drive.google.com"

// ThumbnailWidth is the fixed width requested for image thumbnails.
const ThumbnailWidth = 1000

var (
	drivePathID  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveQueryID = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
)

// NormalizeURL maps a shared-drive link to a directly renderable URL:
// an embeddable preview for videos, a fixed-width thumbnail for images.
//
// URLs outside the shared-drive host and drive links without a file
// identifier are returned unchanged. The output of NormalizeURL is a fixed
// point for the same kind: normalizing it again returns it unchanged.
func NormalizeURL(raw string, kind Kind) string {
	if !isDriveURL(raw) {
		return raw
	}
	id := DriveFileID(raw)
	if id == "" {
		return raw
	}
	if kind == KindVideo {
		return "https://" + DriveHost + "/file/d/" + id + "/preview"
	}
	return "https://" + DriveHost + "/thumbnail?sz=w1000&id=" + id
}

// DriveFileID extracts the file identifier from a shared-drive link, trying
// the /file/d/{id} path form first and the id= query form second.
// Returns "" when neither form is present.
func DriveFileID(raw string) string {
	if m := drivePathID.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := driveQueryID.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

// isDriveURL reports whether raw points at the shared-drive host. Links
// pasted without a scheme ("drive.google.com/file/d/...") are accepted.
func isDriveURL(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" {
		return false
	}
	if !strings.Contains(s, "://") {
		if strings.HasPrefix(s, "//") {
			s = "https:" + s
		} else {
			s = "https://" + s
		}
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), DriveHost)
}
