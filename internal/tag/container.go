package tag

import (
	"maps"
	"slices"
	"strings"
)

// Change describes a tag entering or leaving a Container.
type Change struct {
	Tag   Tag
	Added bool
}

// Listener observes presence changes of a Container.
type Listener func(c *Container, ch Change)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Container is the set of tags held by one actor.
//
// Several sources may grant the same tag; the container counts grants so
// that the tag stays present until the last grant is removed, while Tags()
// never reports duplicates. Listeners fire only when presence changes.
//
// Not safe for concurrent use: the owning actor serializes access.
type Container struct {
	explicit map[Tag]int // grant count per tag
	matched  map[*node]int

	listeners  []listenerEntry
	listenerID uint64
}

// NewContainer creates an empty Container.
func NewContainer() *Container {
	return &Container{
		explicit: make(map[Tag]int, 8),
		matched:  make(map[*node]int, 16),
	}
}

// Subscribe registers a listener and returns a func that removes it.
func (c *Container) Subscribe(fn Listener) (unsubscribe func()) {
	c.listenerID++
	id := c.listenerID
	c.listeners = append(c.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		c.listeners = slices.DeleteFunc(c.listeners, func(e listenerEntry) bool { return e.id == id })
	}
}

// Clone returns a copy of the held tags and grant counts without listeners.
func (c *Container) Clone() *Container {
	return &Container{
		explicit: maps.Clone(c.explicit),
		matched:  maps.Clone(c.matched),
	}
}

// Add grants t once. Returns true if t was not present before.
func (c *Container) Add(t Tag) bool {
	if !c.add(t) {
		return false
	}
	c.notify(Change{Tag: t, Added: true})
	return true
}

// Remove releases one grant of t. Returns true if t left the container.
func (c *Container) Remove(t Tag) bool {
	if !c.remove(t) {
		return false
	}
	c.notify(Change{Tag: t, Added: false})
	return true
}

// AddAll grants every tag in the set. Listeners are notified after all
// grants are in place, once per tag that became present.
func (c *Container) AddAll(tags Set) {
	var changed []Tag
	for _, t := range tags {
		if c.add(t) {
			changed = append(changed, t)
		}
	}
	for _, t := range changed {
		c.notify(Change{Tag: t, Added: true})
	}
}

// RemoveAll releases one grant of every tag in the set.
// Listeners are notified after all releases are done.
func (c *Container) RemoveAll(tags Set) {
	var changed []Tag
	for _, t := range tags {
		if c.remove(t) {
			changed = append(changed, t)
		}
	}
	for _, t := range changed {
		c.notify(Change{Tag: t, Added: false})
	}
}

// Has reports whether any held tag matches query hierarchically.
// A container holding "State.Stunned" has "State".
func (c *Container) Has(query Tag) bool {
	if query.n == nil {
		return false
	}
	return c.matched[query.n] > 0
}

// HasExact reports whether query itself is held.
func (c *Container) HasExact(query Tag) bool {
	return c.explicit[query] > 0
}

// HasAny reports whether any tag of the set is matched.
func (c *Container) HasAny(tags Set) bool {
	for _, t := range tags {
		if c.Has(t) {
			return true
		}
	}
	return false
}

// HasAll reports whether every tag of the set is matched.
// An empty set is always satisfied.
func (c *Container) HasAll(tags Set) bool {
	for _, t := range tags {
		if !c.Has(t) {
			return false
		}
	}
	return true
}

// GrantCount returns how many grants of t are held.
func (c *Container) GrantCount(t Tag) int {
	return c.explicit[t]
}

// Len returns the number of distinct held tags.
func (c *Container) Len() int {
	return len(c.explicit)
}

// Tags returns the held tags sorted by path.
func (c *Container) Tags() Set {
	out := make(Set, 0, len(c.explicit))
	for t := range c.explicit {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tag) int { return strings.Compare(a.Path(), b.Path()) })
	return out
}

func (c *Container) add(t Tag) bool {
	if t.n == nil {
		return false
	}
	c.explicit[t]++
	if c.explicit[t] > 1 {
		return false
	}
	for n := t.n; n != nil; n = n.parent {
		c.matched[n]++
	}
	return true
}

func (c *Container) remove(t Tag) bool {
	cnt, ok := c.explicit[t]
	if !ok {
		return false
	}
	if cnt > 1 {
		c.explicit[t] = cnt - 1
		return false
	}
	delete(c.explicit, t)
	for n := t.n; n != nil; n = n.parent {
		if c.matched[n] <= 1 {
			delete(c.matched, n)
		} else {
			c.matched[n]--
		}
	}
	return true
}

func (c *Container) notify(ch Change) {
	if len(c.listeners) == 0 {
		return
	}
	// Listeners may subscribe or unsubscribe while being notified.
	ls := slices.Clone(c.listeners)
	for _, l := range ls {
		l.fn(c, ch)
	}
}
