package models

import (
	"encoding/json"
	"sort"
)

// StringSet is an unordered set of strings. It is serialized as a sorted array.
type StringSet map[string]struct{}

// NewStringSet builds a set from the given items, skipping empty strings.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, item := range items {
		s.Add(item)
	}
	return s
}

// Add inserts an item.
func (s StringSet) Add(item string) {
	if item == "" {
		return
	}
	s[item] = struct{}{}
}

// Has reports whether the item is present.
func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// HasAny reports whether any of the items is present.
func (s StringSet) HasAny(items ...string) bool {
	for _, item := range items {
		if s.Has(item) {
			return true
		}
	}
	return false
}

// Union returns a new set holding the items of both sets.
func (s StringSet) Union(other StringSet) StringSet {
	out := make(StringSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Contains reports whether every item of other is in s.
func (s StringSet) Contains(other StringSet) bool {
	for k := range other {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the items in lexical order.
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array into the set.
func (s *StringSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}
