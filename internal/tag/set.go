package tag

import "strings"

// Set is a small ordered collection of distinct tags.
// Definitions carry a handful of tags, so a slice beats a map here.
type Set []Tag

// With returns s with t appended unless already present.
func (s Set) With(t Tag) Set {
	if s.Contains(t) {
		return s
	}
	return append(s, t)
}

// Contains reports whether t is an element of s (exact).
func (s Set) Contains(t Tag) bool {
	for _, x := range s {
		if x == t {
			return true
		}
	}
	return false
}

// MatchesAny reports whether any tag of s matches any query in queries.
// Used for cancel rules: an ability tagged "Stance.Defensive" is matched by
// a cancel query "Stance".
func (s Set) MatchesAny(queries Set) bool {
	for _, t := range s {
		for _, q := range queries {
			if t.Matches(q) {
				return true
			}
		}
	}
	return false
}

// Paths returns the dotted paths of the set in order.
func (s Set) Paths() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.Path()
	}
	return out
}

func (s Set) String() string {
	return "{" + strings.Join(s.Paths(), ", ") + "}"
}
