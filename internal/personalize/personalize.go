// Package personalize matches content items' target audience against the
// viewer profile inferred by face analysis.
package personalize

import (
	"github.com/lannapoly/tiewson-kiosk/internal/content"
)

// Gender is the viewer gender as reported by perception.
type Gender string

const (
	Male    Gender = "male"
	Female  Gender = "female"
	Unknown Gender = "unknown"
)

// DefaultAgeCeiling is the upper age bound used when an item sets a minimum
// age but no maximum.
const DefaultAgeCeiling = 100

// Profile is the transient viewer profile of one personalized session.
type Profile struct {
	Gender     Gender  `json:"gender"`
	Age        int     `json:"age"`
	Confidence float64 `json:"confidence"`
}

// Matches reports whether item targets the viewer described by p.
//
// Gender: an item aimed at all viewers (or carrying the legacy empty value)
// passes; otherwise the item's gender must equal the viewer's.
//
// Age: an item without a minimum age passes regardless of its maximum.
// Otherwise min <= age <= max, with DefaultAgeCeiling standing in for an
// absent max. A zero bound counts as absent.
func Matches(item content.Item, p Profile) bool {
	return genderMatches(item.TargetGender, p.Gender) && ageMatches(item.TargetAgeMin, item.TargetAgeMax, p.Age)
}

func genderMatches(target content.TargetGender, g Gender) bool {
	target = target.Normalize()
	if target == content.TargetAll {
		return true
	}
	return string(target) == string(g)
}

// ageMatches keeps the product rule that a missing minimum skips the age
// check entirely, even when a maximum is set.
func ageMatches(minAge, maxAge *int, age int) bool {
	minAge, maxAge = content.AgeBound(minAge), content.AgeBound(maxAge)
	if minAge == nil {
		return true
	}
	ceiling := DefaultAgeCeiling
	if maxAge != nil {
		ceiling = *maxAge
	}
	return age >= *minAge && age <= ceiling
}

// Filter returns the items matching p, in input order.
func Filter(items []content.Item, p Profile) []content.Item {
	out := make([]content.Item, 0, len(items))
	for _, it := range items {
		if Matches(it, p) {
			out = append(out, it)
		}
	}
	return out
}
