// Package locale defines the kiosk's UI locales and the single fallback
// rule used to resolve localized content fields.
//
// Content titles and descriptions are stored per locale. When the viewer's
// locale has no text, the kiosk falls back to English and then to the
// untranslated default entry. All call sites go through Resolve so the
// fallback order cannot drift between the carousel, the personalized feed
// and the admin screen.
package locale

import "strings"

// Locale is a UI language code.
type Locale string

const (
	Thai    Locale = "th"
	English Locale = "en"
	Chinese Locale = "zh"
	Korean  Locale = "ko"

	// Untranslated keys the language-neutral default text of a field
	// (BCP 47 "undetermined").
	Untranslated Locale = "und"
)

// Default is the locale the kiosk starts in.
const Default = Thai

// Supported lists the selectable UI locales in display order.
var Supported = []Locale{Thai, English, Chinese, Korean}

// speechTags maps each UI locale to the language tag used by the
// recognition and synthesis engines.
var speechTags = map[Locale]string{
	Thai:    "th-TH",
	English: "en-US",
	Chinese: "zh-CN",
	Korean:  "ko-KR",
}

// Parse converts a user-supplied code ("TH", " en ") into a supported Locale.
func Parse(s string) (Locale, bool) {
	l := Locale(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := speechTags[l]; ok {
		return l, true
	}
	return "", false
}

// Valid reports whether l is one of the selectable UI locales.
func (l Locale) Valid() bool {
	_, ok := speechTags[l]
	return ok
}

// SpeechTag returns the recognition/synthesis language tag for l,
// defaulting to Thai for unknown locales.
func (l Locale) SpeechTag() string {
	if tag, ok := speechTags[l]; ok {
		return tag
	}
	return speechTags[Default]
}

func (l Locale) String() string { return string(l) }

// Text holds one localized field: locale → text.
type Text map[Locale]string

// Get returns the trimmed text stored for l, or "".
func (t Text) Get(l Locale) string {
	if t == nil {
		return ""
	}
	return strings.TrimSpace(t[l])
}

// Empty reports whether no locale (including Untranslated) has text.
func (t Text) Empty() bool {
	for _, v := range t {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Clean returns a copy of t without blank entries. Returns nil when
// nothing is left.
func (t Text) Clean() Text {
	var out Text
	for k, v := range t {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if out == nil {
			out = make(Text, len(t))
		}
		out[k] = v
	}
	return out
}

// FallbackOrder returns the resolution chain for a requested locale:
// requested → English → untranslated default. Duplicates are removed.
func FallbackOrder(requested Locale) []Locale {
	order := make([]Locale, 0, 3)
	for _, l := range []Locale{requested, English, Untranslated} {
		if l == "" {
			continue
		}
		dup := false
		for _, seen := range order {
			if seen == l {
				dup = true
				break
			}
		}
		if !dup {
			order = append(order, l)
		}
	}
	return order
}

// Resolve returns the first non-blank entry of field following order.
// Returns "" if none of the locales in order has text.
func Resolve(field Text, order []Locale) string {
	for _, l := range order {
		if v := field.Get(l); v != "" {
			return v
		}
	}
	return ""
}

// ResolveFor is Resolve with FallbackOrder(requested).
func ResolveFor(field Text, requested Locale) string {
	return Resolve(field, FallbackOrder(requested))
}
