package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ThreatCategory classifies the kind of malicious activity.
type ThreatCategory string

const (
	CategoryReconnaissance      ThreatCategory = "reconnaissance"
	CategoryBruteForce          ThreatCategory = "brute_force"
	CategoryDataExfiltration    ThreatCategory = "data_exfiltration"
	CategoryPrivilegeEscalation ThreatCategory = "privilege_escalation"
	CategoryPersistence         ThreatCategory = "persistence"
	CategoryLateralMovement     ThreatCategory = "lateral_movement"
	CategoryCommandControl      ThreatCategory = "command_control"
	CategoryExfiltration        ThreatCategory = "exfiltration"
	CategoryImpact              ThreatCategory = "impact"
)

// CategoryWeights holds the base risk weight of each category.
var CategoryWeights = map[ThreatCategory]int{
	CategoryReconnaissance:      3,
	CategoryBruteForce:          7,
	CategoryDataExfiltration:    9,
	CategoryPrivilegeEscalation: 8,
	CategoryPersistence:         6,
	CategoryLateralMovement:     7,
	CategoryCommandControl:      8,
	CategoryExfiltration:        9,
	CategoryImpact:              10,
}

// ParseThreatCategory validates a category name.
func ParseThreatCategory(s string) (ThreatCategory, error) {
	c := ThreatCategory(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := CategoryWeights[c]; !ok {
		return "", fmt.Errorf("unknown threat category %q", s)
	}
	return c, nil
}

// CategorySet is an unordered set of threat categories.
type CategorySet map[ThreatCategory]struct{}

// NewCategorySet builds a set from the given categories.
func NewCategorySet(items ...ThreatCategory) CategorySet {
	s := make(CategorySet, len(items))
	for _, c := range items {
		s.Add(c)
	}
	return s
}

// Add inserts a category.
func (s CategorySet) Add(c ThreatCategory) {
	if c == "" {
		return
	}
	s[c] = struct{}{}
}

// Has reports whether the category is present.
func (s CategorySet) Has(c ThreatCategory) bool {
	_, ok := s[c]
	return ok
}

// Union returns a new set holding the categories of both sets.
func (s CategorySet) Union(other CategorySet) CategorySet {
	out := make(CategorySet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Sorted returns the categories in lexical order.
func (s CategorySet) Sorted() []ThreatCategory {
	out := make([]ThreatCategory, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s CategorySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array into the set.
func (s *CategorySet) UnmarshalJSON(data []byte) error {
	var items []ThreatCategory
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewCategorySet(items...)
	return nil
}
