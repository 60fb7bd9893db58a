// Package objectstore stores raw media files uploaded from the admin screen
// and returns a public URL the kiosk page can render.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// KeyPrefix namespaces every uploaded object.
const KeyPrefix = "news/"

// putAPI is the subset of *s3.Client used by S3Uploader.
type putAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader uploads media under KeyPrefix in one bucket.
type S3Uploader struct {
	client        putAPI
	bucket        string
	region        string
	publicBaseURL string
	now           func() time.Time
}

// NewS3Uploader creates an uploader. publicBaseURL (for example a CDN
// origin) prefixes returned URLs; when empty the bucket's virtual-hosted
// S3 URL is used.
func NewS3Uploader(client putAPI, bucket, region, publicBaseURL string) *S3Uploader {
	return &S3Uploader{
		client:        client,
		bucket:        bucket,
		region:        region,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// Upload stores body under news/{unixMillis}_{name} and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, filename, contentType string, body []byte) (string, error) {
	key := fmt.Sprintf("%s%d_%s", KeyPrefix, u.now().UnixMilli(), SanitizeFilename(filename))

	log.Debug().
		Str("bucket", u.bucket).
		Str("key", key).
		Int("size", len(body)).
		Msg("Uploading media to S3")

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload media to S3: %w", err)
	}

	publicURL := u.PublicURL(key)
	log.Info().Str("key", key).Str("url", publicURL).Msg("Media uploaded to S3")
	return publicURL, nil
}

// PublicURL returns the URL an object key is served from.
func (u *S3Uploader) PublicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + escaped
	}
	if u.region == "" || u.region == "us-east-1" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", u.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, escaped)
}

// SanitizeFilename keeps the base name of an uploaded file and replaces
// characters that are awkward in object keys with underscores.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
