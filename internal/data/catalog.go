package data

import (
	"maps"
	"slices"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
)

// Catalog is the validated set of static definitions.
// Read-only after load; safe for concurrent use.
type Catalog struct {
	attributes []attribute.Definition
	effects    map[string]*effect.Definition
	abilities  map[string]*ability.Definition
	order      []string // abilities in declaration order
}

// Attributes returns a copy of the attribute schema every actor is created with.
func (c *Catalog) Attributes() []attribute.Definition {
	return slices.Clone(c.attributes)
}

// Effect returns the effect definition by ID.
func (c *Catalog) Effect(id string) (*effect.Definition, bool) {
	def, ok := c.effects[id]
	return def, ok
}

// Ability returns the ability definition by ID.
func (c *Catalog) Ability(id string) (*ability.Definition, bool) {
	def, ok := c.abilities[id]
	return def, ok
}

// AbilityIDs returns ability IDs in declaration order.
func (c *Catalog) AbilityIDs() []string {
	return slices.Clone(c.order)
}

// EffectIDs returns effect IDs, sorted.
func (c *Catalog) EffectIDs() []string {
	return slices.Sorted(maps.Keys(c.effects))
}
