package attribute

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
)

var (
	// ErrUnknownAttribute is returned for attributes that were never declared.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrDuplicateAttribute is returned when an attribute is declared twice.
	ErrDuplicateAttribute = errors.New("duplicate attribute")

	// ErrBoundCycle is returned when attribute bounds reference each other in a loop.
	ErrBoundCycle = errors.New("attribute bound cycle")
)

// Definition is the static schema of one attribute.
//
// Min/Max are fixed bounds; MinAttr/MaxAttr name another attribute whose
// current value bounds this one (Health in [0, MaxHealth]). When both kinds
// are present the tighter bound wins.
//
// A Meta attribute is a transient input slot: after an instant execution its
// positive base value is subtracted from DrainInto and reset to zero
// (ReceivedDamage → Health).
type Definition struct {
	Name      string
	Base      float64
	Min       *float64
	Max       *float64
	MinAttr   string
	MaxAttr   string
	Meta      bool
	DrainInto string
}

// Bound is a helper for filling Definition.Min and Definition.Max.
func Bound(v float64) *float64 {
	return &v
}

type attr struct {
	def     Definition
	base    float64
	current float64
	mods    []modEntry
}

// ChangeFunc observes current value changes.
type ChangeFunc func(name string, old, new float64)

// Set holds the named numeric attributes of one actor.
//
// Current values are recomputed eagerly after every mutation, including every
// attribute whose bounds depend on the mutated one.
//
// Not safe for concurrent use: the owning actor serializes access.
type Set struct {
	attrs      map[string]*attr
	order      []string
	dependents map[string][]string
	handles    map[ModifierHandle]string
	nextHandle ModifierHandle
	onChange   []ChangeFunc
}

// NewSet creates a Set from definitions. Bound references may point at
// attributes declared later in the list.
func NewSet(defs ...Definition) (*Set, error) {
	s := &Set{
		attrs:      make(map[string]*attr, len(defs)),
		order:      make([]string, 0, len(defs)),
		dependents: make(map[string][]string),
		handles:    make(map[ModifierHandle]string),
	}

	for _, def := range defs {
		if _, ok := s.attrs[def.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAttribute, def.Name)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrUnknownAttribute)
		}
		s.attrs[def.Name] = &attr{def: def, base: def.Base}
		s.order = append(s.order, def.Name)
	}

	for _, name := range s.order {
		if err := s.link(s.attrs[name].def); err != nil {
			return nil, err
		}
	}
	if err := s.checkCycles(); err != nil {
		return nil, err
	}

	for _, name := range s.order {
		s.recompute(name, nil)
	}
	return s, nil
}

// Declare adds one attribute to an existing Set.
// Its bound references must already be declared.
func (s *Set) Declare(def Definition) error {
	if _, ok := s.attrs[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAttribute, def.Name)
	}
	if def.Name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownAttribute)
	}
	for _, ref := range []string{def.MinAttr, def.MaxAttr, def.DrainInto} {
		if ref != "" && s.attrs[ref] == nil {
			return fmt.Errorf("%w: %s referenced by %s", ErrUnknownAttribute, ref, def.Name)
		}
	}

	s.attrs[def.Name] = &attr{def: def, base: def.Base}
	s.order = append(s.order, def.Name)
	if err := s.link(def); err != nil {
		delete(s.attrs, def.Name)
		s.order = s.order[:len(s.order)-1]
		return err
	}
	s.recompute(def.Name, nil)
	return nil
}

// OnChange registers an observer for current value changes.
func (s *Set) OnChange(fn ChangeFunc) {
	s.onChange = append(s.onChange, fn)
}

// Has reports whether name was declared.
func (s *Set) Has(name string) bool {
	_, ok := s.attrs[name]
	return ok
}

// Names returns attribute names in declaration order.
func (s *Set) Names() []string {
	return slices.Clone(s.order)
}

// Definition returns the schema of name.
func (s *Set) Definition(name string) (Definition, error) {
	a, err := s.get(name)
	if err != nil {
		return Definition{}, err
	}
	return a.def, nil
}

// Base returns the base value of name.
func (s *Set) Base(name string) (float64, error) {
	a, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return a.base, nil
}

// CurrentValue returns base plus active modifiers, clamped.
func (s *Set) CurrentValue(name string) (float64, error) {
	a, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return a.current, nil
}

// Values returns every current value keyed by name.
func (s *Set) Values() map[string]float64 {
	out := make(map[string]float64, len(s.attrs))
	for name, a := range s.attrs {
		out[name] = a.current
	}
	return out
}

// Snapshot returns every base value keyed by name.
func (s *Set) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(s.attrs))
	for name, a := range s.attrs {
		out[name] = a.base
	}
	return out
}

// SetBase replaces the base value of name.
// The base itself is stored unclamped; clamping applies to the current value.
func (s *Set) SetBase(name string, value float64) error {
	a, err := s.get(name)
	if err != nil {
		return err
	}
	a.base = value
	s.recompute(name, nil)
	return nil
}

// ApplyToBase executes op once against the base value of name and clamps
// the result to the attribute bounds. Instant effects and cost commits use it.
func (s *Set) ApplyToBase(name string, op Op, magnitude float64) error {
	a, err := s.get(name)
	if err != nil {
		return err
	}
	a.base = s.clamp(a.def, applyOp(a.base, op, magnitude))
	s.recompute(name, nil)
	return nil
}

// AddModifier installs mod on name and returns its handle.
func (s *Set) AddModifier(name string, mod Modifier) (ModifierHandle, error) {
	a, err := s.get(name)
	if err != nil {
		return 0, err
	}
	s.nextHandle++
	h := s.nextHandle
	a.mods = append(a.mods, modEntry{handle: h, mod: mod})
	s.handles[h] = name
	s.recompute(name, nil)
	return h, nil
}

// RemoveModifier uninstalls a modifier. Returns false if the handle is
// unknown or was already removed; nothing is reversed twice.
func (s *Set) RemoveModifier(h ModifierHandle) bool {
	name, ok := s.handles[h]
	if !ok {
		return false
	}
	delete(s.handles, h)

	a := s.attrs[name]
	a.mods = slices.DeleteFunc(a.mods, func(e modEntry) bool { return e.handle == h })
	s.recompute(name, nil)
	return true
}

// Modifier returns the installed modifier for h.
func (s *Set) Modifier(h ModifierHandle) (Modifier, bool) {
	name, ok := s.handles[h]
	if !ok {
		return Modifier{}, false
	}
	for _, e := range s.attrs[name].mods {
		if e.handle == h {
			return e.mod, true
		}
	}
	return Modifier{}, false
}

// ModifierCount returns the number of modifiers active on name.
func (s *Set) ModifierCount(name string) int {
	a, ok := s.attrs[name]
	if !ok {
		return 0
	}
	return len(a.mods)
}

// ConsumeMeta drains every positive meta attribute into its target and
// resets it to zero. Returns the drained amount per meta attribute.
func (s *Set) ConsumeMeta() map[string]float64 {
	var drained map[string]float64
	for _, name := range s.order {
		a := s.attrs[name]
		if !a.def.Meta {
			continue
		}
		amount := a.base
		a.base = 0
		s.recompute(name, nil)
		if amount <= 0 || a.def.DrainInto == "" {
			continue
		}

		target := s.attrs[a.def.DrainInto]
		target.base = s.clamp(target.def, target.base-amount)
		s.recompute(a.def.DrainInto, nil)

		if drained == nil {
			drained = make(map[string]float64, 1)
		}
		drained[name] = amount
		slog.Debug("meta attribute consumed", "attribute", name, "into", a.def.DrainInto, "amount", amount)
	}
	return drained
}

func (s *Set) get(name string) (*attr, error) {
	a, ok := s.attrs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	return a, nil
}

// link records bound dependencies of def.
func (s *Set) link(def Definition) error {
	for _, ref := range []string{def.MinAttr, def.MaxAttr} {
		if ref == "" {
			continue
		}
		if _, ok := s.attrs[ref]; !ok {
			return fmt.Errorf("%w: %s referenced by %s", ErrUnknownAttribute, ref, def.Name)
		}
		s.dependents[ref] = append(s.dependents[ref], def.Name)
	}
	if def.DrainInto != "" {
		if _, ok := s.attrs[def.DrainInto]; !ok {
			return fmt.Errorf("%w: %s referenced by %s", ErrUnknownAttribute, def.DrainInto, def.Name)
		}
	}
	return nil
}

func (s *Set) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.attrs))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: through %s", ErrBoundCycle, name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range s.dependents[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range s.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// recompute refreshes the current value of name and cascades to attributes
// bounded by it.
func (s *Set) recompute(name string, seen map[string]bool) {
	if seen[name] {
		return
	}
	a := s.attrs[name]
	old := a.current
	a.current = s.clamp(a.def, aggregate(a.base, a.mods))

	if old != a.current {
		for _, fn := range s.onChange {
			fn(name, old, a.current)
		}
	}

	deps := s.dependents[name]
	if len(deps) == 0 {
		return
	}
	if seen == nil {
		seen = make(map[string]bool, 4)
	}
	seen[name] = true
	for _, dep := range deps {
		s.recompute(dep, seen)
	}
	delete(seen, name)
}

func (s *Set) clamp(def Definition, v float64) float64 {
	lo, hi := math.Inf(-1), math.Inf(1)
	if def.Min != nil {
		lo = *def.Min
	}
	if def.Max != nil {
		hi = *def.Max
	}
	if def.MinAttr != "" {
		if b, ok := s.attrs[def.MinAttr]; ok {
			lo = max(lo, b.current)
		}
	}
	if def.MaxAttr != "" {
		if b, ok := s.attrs[def.MaxAttr]; ok {
			hi = min(hi, b.current)
		}
	}
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}
