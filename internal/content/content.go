// Package content stores the kiosk's news and advertisement items and
// exposes the operations the admin screen and the feed need: list all items
// newest first, insert a new item, and delete an item.
//
// Backends implement Repository. The Service facade sits in front of a
// backend and owns validation, media URL normalization, the re-list after
// every mutation and the last good snapshot readers fall back to when the
// backend is unreachable.
package content

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lannapoly/tiewson-kiosk/internal/locale"
	"github.com/lannapoly/tiewson-kiosk/internal/media"
)

// ErrUnavailable is returned (wrapped) when the backing store cannot be
// reached or rejects a request for transport reasons.
var ErrUnavailable = errors.New("content repository unavailable")

// TargetGender is the audience gender an item is aimed at.
type TargetGender string

const (
	TargetAll    TargetGender = "all"
	TargetMale   TargetGender = "male"
	TargetFemale TargetGender = "female"
)

// Normalize maps the legacy empty value to TargetAll.
func (g TargetGender) Normalize() TargetGender {
	if g == "" {
		return TargetAll
	}
	return g
}

// Valid reports whether g (after normalization) is a known audience.
func (g TargetGender) Valid() bool {
	switch g.Normalize() {
	case TargetAll, TargetMale, TargetFemale:
		return true
	}
	return false
}

// Item is one stored content item.
type Item struct {
	ID           string       `json:"id"`
	Title        locale.Text  `json:"title"`
	Description  locale.Text  `json:"description,omitempty"`
	MediaType    media.Kind   `json:"mediaType"`
	MediaURL     string       `json:"mediaUrl"`
	TargetGender TargetGender `json:"targetGender"`
	TargetAgeMin *int         `json:"targetAgeMin,omitempty"`
	TargetAgeMax *int         `json:"targetAgeMax,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// TitleFor returns the item title resolved for l.
func (it Item) TitleFor(l locale.Locale) string {
	return locale.ResolveFor(it.Title, l)
}

// DescriptionFor returns the item description resolved for l.
func (it Item) DescriptionFor(l locale.Locale) string {
	return locale.ResolveFor(it.Description, l)
}

// Draft is an item as submitted by the admin screen: everything except the
// server-assigned ID and CreatedAt.
type Draft struct {
	Title        locale.Text  `json:"title"`
	Description  locale.Text  `json:"description,omitempty"`
	MediaType    media.Kind   `json:"mediaType"`
	MediaURL     string       `json:"mediaUrl"`
	TargetGender TargetGender `json:"targetGender"`
	TargetAgeMin *int         `json:"targetAgeMin,omitempty"`
	TargetAgeMax *int         `json:"targetAgeMax,omitempty"`
}

// ValidationError lists every problem found in a draft.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid content item: " + strings.Join(e.Problems, "; ")
}

// Validate checks the draft's required fields. It returns a
// *ValidationError describing all problems, or nil.
func (d Draft) Validate() error {
	var problems []string
	if d.Title.Empty() {
		problems = append(problems, "title is required in at least one locale")
	}
	if strings.TrimSpace(d.MediaURL) == "" {
		problems = append(problems, "media reference is required")
	}
	if !d.MediaType.Valid() {
		problems = append(problems, "media type must be image or video")
	}
	if !d.TargetGender.Valid() {
		problems = append(problems, "target gender must be all, male or female")
	}
	if d.TargetAgeMin != nil && *d.TargetAgeMin < 0 {
		problems = append(problems, "minimum age must not be negative")
	}
	if d.TargetAgeMax != nil && *d.TargetAgeMax < 0 {
		problems = append(problems, "maximum age must not be negative")
	}
	if lo, hi := AgeBound(d.TargetAgeMin), AgeBound(d.TargetAgeMax); lo != nil && hi != nil && *lo > *hi {
		problems = append(problems, "minimum age must not exceed maximum age")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Normalized returns a copy with blank locale entries dropped, the media URL
// rewritten into its directly renderable form, the legacy empty gender
// mapped to TargetAll and zero age bounds dropped.
func (d Draft) Normalized() Draft {
	d.Title = d.Title.Clean()
	d.Description = d.Description.Clean()
	d.MediaURL = media.NormalizeURL(strings.TrimSpace(d.MediaURL), d.MediaType)
	d.TargetGender = d.TargetGender.Normalize()
	d.TargetAgeMin = AgeBound(d.TargetAgeMin)
	d.TargetAgeMax = AgeBound(d.TargetAgeMax)
	return d
}

// Item builds a stored item from the draft.
func (d Draft) Item(id string, createdAt time.Time) Item {
	return Item{
		ID:           id,
		Title:        d.Title,
		Description:  d.Description,
		MediaType:    d.MediaType,
		MediaURL:     d.MediaURL,
		TargetGender: d.TargetGender,
		TargetAgeMin: d.TargetAgeMin,
		TargetAgeMax: d.TargetAgeMax,
		CreatedAt:    createdAt,
	}
}

// Repository is a content backend. Implementations must be safe for
// concurrent use.
//
// List returns every item ordered by CreatedAt descending. Insert assigns
// the ID and CreatedAt and returns the ID. Delete of an unknown ID succeeds.
// Transport failures are reported wrapped around ErrUnavailable.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	Insert(ctx context.Context, d Draft) (string, error)
	Delete(ctx context.Context, id string) error
}

// Uploader stores a raw media file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, body []byte) (string, error)
}

// AgeBound returns v, or nil when v is unset or zero. Items stored by the
// earlier admin screen used 0 for "no bound".
func AgeBound(v *int) *int {
	if v == nil || *v == 0 {
		return nil
	}
	return v
}

// IntPtr returns a pointer to v. Handy for optional age bounds.
func IntPtr(v int) *int { return &v }
