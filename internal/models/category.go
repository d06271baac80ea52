package models

import "fmt"

// Category classifies an Observation.
type Category string

const (
	CategoryDecision       Category = "decision"
	CategoryPattern        Category = "pattern"
	CategoryBugfix         Category = "bugfix"
	CategoryGotcha         Category = "gotcha"
	CategoryFeature        Category = "feature"
	CategoryImplementation Category = "implementation"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryDecision,
	CategoryPattern,
	CategoryBugfix,
	CategoryGotcha,
	CategoryFeature,
	CategoryImplementation,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory converts s to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}
