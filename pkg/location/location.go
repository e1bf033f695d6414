// Package location maps free text to lookup keys, such as weather city
// codes, by trying an ordered table of patterns.
package location

import (
	"jepcobird/pkg/trigger"
)

// Mapping resolves to Key when any of its patterns matches.
type Mapping struct {
	Key      string
	Patterns []trigger.Pattern
}

type Resolver struct {
	mappings []Mapping
}

func NewResolver(mappings ...Mapping) *Resolver {
	return &Resolver{mappings: append([]Mapping(nil), mappings...)}
}

// Resolve returns the key of the first mapping whose patterns match text.
// ok is false when nothing matches.
func (r *Resolver) Resolve(text string) (key string, ok bool) {
	if r == nil {
		return "", false
	}
	for _, mapping := range r.mappings {
		for _, pattern := range mapping.Patterns {
			if _, hit := pattern.Match(text); hit {
				return mapping.Key, true
			}
		}
	}
	return "", false
}

func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.mappings)
}
