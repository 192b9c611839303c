package tag

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrInvalidTagFormat is returned for empty or malformed tag paths.
var ErrInvalidTagFormat = errors.New("invalid tag format")

// node is one interned path segment. Nodes are linked to their parent so that
// hierarchical matching is a pointer walk rather than a string prefix scan.
type node struct {
	path   string
	parent *node
	depth  int
}

// Tag is an interned hierarchical identifier ("State.Stunned").
// Tags from the same Registry are comparable with ==.
// The zero Tag matches nothing.
type Tag struct {
	n *node
}

// Path returns the dotted path of the tag.
func (t Tag) Path() string {
	if t.n == nil {
		return ""
	}
	return t.n.path
}

// String implements fmt.Stringer.
func (t Tag) String() string { return t.Path() }

// IsZero reports whether t is the zero Tag.
func (t Tag) IsZero() bool { return t.n == nil }

// Depth returns the number of segments in the path (1 for root tags).
func (t Tag) Depth() int {
	if t.n == nil {
		return 0
	}
	return t.n.depth
}

// Parent returns the direct ancestor of t.
// Returns false for root tags and for the zero Tag.
func (t Tag) Parent() (Tag, bool) {
	if t.n == nil || t.n.parent == nil {
		return Tag{}, false
	}
	return Tag{n: t.n.parent}, true
}

// Matches reports whether query is t itself or one of its dotted-prefix ancestors.
// "State.Stunned".Matches("State") is true, the reverse is false.
func (t Tag) Matches(query Tag) bool {
	if query.n == nil {
		return false
	}
	for n := t.n; n != nil; n = n.parent {
		if n == query.n {
			return true
		}
	}
	return false
}

// Registry interns tag paths for the process lifetime. There is no removal.
//
// Thread-safe: lookups take a read lock, only new paths take the write lock.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*node, 64)}
}

var defaultRegistry = NewRegistry()

// Default returns the shared process registry.
func Default() *Registry {
	return defaultRegistry
}

// Intern returns the handle for path, creating it and all of its ancestors if needed.
// The same path always yields the same handle.
func (r *Registry) Intern(path string) (Tag, error) {
	r.mu.RLock()
	n, ok := r.nodes[path]
	r.mu.RUnlock()
	if ok {
		return Tag{n: n}, nil
	}

	if err := validatePath(path); err != nil {
		return Tag{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have interned it between the locks.
	if n, ok := r.nodes[path]; ok {
		return Tag{n: n}, nil
	}

	var parent *node
	depth := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		depth++
		prefix := path[:i]
		cur, ok := r.nodes[prefix]
		if !ok {
			cur = &node{path: prefix, parent: parent, depth: depth}
			r.nodes[prefix] = cur
		}
		parent = cur
	}

	return Tag{n: parent}, nil
}

// MustIntern is like Intern but panics on an invalid path.
// Intended for static tables and tests.
func (r *Registry) MustIntern(path string) Tag {
	t, err := r.Intern(path)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the handle for an already interned path.
func (r *Registry) Lookup(path string) (Tag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[path]
	return Tag{n: n}, ok
}

// Len returns the number of interned paths, ancestors included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ParseAll interns every path and returns them as a Set.
func (r *Registry) ParseAll(paths []string) (Set, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	set := make(Set, 0, len(paths))
	for _, p := range paths {
		t, err := r.Intern(p)
		if err != nil {
			return nil, err
		}
		set = set.With(t)
	}
	return set, nil
}

// validatePath rejects empty paths, empty segments and characters outside [A-Za-z0-9_-].
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidTagFormat)
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidTagFormat, path)
		}
		for _, c := range seg {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			default:
				return fmt.Errorf("%w: character %q in %q", ErrInvalidTagFormat, c, path)
			}
		}
	}
	return nil
}
