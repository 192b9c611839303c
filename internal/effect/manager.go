package effect

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/tag"
)

var (
	// ErrStackingDenied is returned when a Deny definition is already active on the target.
	ErrStackingDenied = errors.New("stacking denied")

	// ErrUnknownHandle is returned when removing an effect that is not active.
	ErrUnknownHandle = errors.New("unknown effect handle")
)

// Target is the actor state an effect mutates.
type Target interface {
	Attributes() *attribute.Set
	Tags() *tag.Container
}

// RemoveReason explains why an active effect left the target.
type RemoveReason int8

const (
	RemovedExplicitly RemoveReason = iota // Remove / RemoveByDefinition / RemoveWithGrantedTag
	RemovedExpired                        // Duration ran out during Tick
	RemovedStackLimit                     // Oldest aggregate stack evicted by a new one
)

func (r RemoveReason) String() string {
	switch r {
	case RemovedExplicitly:
		return "removed"
	case RemovedExpired:
		return "expired"
	case RemovedStackLimit:
		return "stack_limit"
	default:
		return fmt.Sprintf("reason(%d)", int8(r))
	}
}

// RemovedFunc observes effects leaving the target, after they are fully reversed.
type RemovedFunc func(ae *ActiveEffect, reason RemoveReason)

// Manager tracks active effects on one target.
//
// Not safe for concurrent use: all calls for one actor are serialized by
// the scheduler.
type Manager struct {
	target     Target
	noneMode   NoneMode
	active     []*ActiveEffect // application order
	byHandle   map[Handle]*ActiveEffect
	nextHandle Handle
	onRemoved  []RemovedFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithNoneMode sets how StackNone definitions behave on re-application.
func WithNoneMode(mode NoneMode) Option {
	return func(m *Manager) { m.noneMode = mode }
}

// NewManager creates a Manager for target.
func NewManager(target Target, opts ...Option) *Manager {
	m := &Manager{
		target:   target,
		active:   make([]*ActiveEffect, 0, 8),
		byHandle: make(map[Handle]*ActiveEffect, 8),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnRemoved registers an observer for effects leaving the target.
func (m *Manager) OnRemoved(fn RemovedFunc) {
	m.onRemoved = append(m.onRemoved, fn)
}

// Apply applies def to the target.
//
// Instant definitions execute immediately and return a zero Handle.
// Otherwise the stacking policy is resolved against instances of the same
// definition already on the target; StackNone and StackRefresh return the
// existing handle, StackDeny fails with ErrStackingDenied leaving the target
// untouched. The instance is marked as applied from outside, so releasing
// ability grants never removes it.
func (m *Manager) Apply(def *Definition, src Source) (Handle, error) {
	ae, err := m.apply(def, src)
	if err != nil || ae == nil {
		return 0, err
	}
	ae.external = true
	return ae.Handle, nil
}

// Acquire applies def like Apply and takes one grant on the resulting
// instance. An instance reached through stacking is shared: it stays on the
// target until every grant is released and nothing applied it from outside.
func (m *Manager) Acquire(def *Definition, src Source) (Handle, error) {
	if def.Duration == Instant {
		return 0, fmt.Errorf("%w %q: instant effects cannot be held", ErrInvalidDefinition, def.ID)
	}
	ae, err := m.apply(def, src)
	if err != nil {
		return 0, err
	}
	ae.grants++
	return ae.Handle, nil
}

// Release drops one grant taken by Acquire. The instance is removed once no
// grant is left and it was never applied from outside. Reports whether the
// instance left the target.
func (m *Manager) Release(h Handle) (bool, error) {
	ae, ok := m.byHandle[h]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if ae.grants > 0 {
		ae.grants--
	}
	if ae.grants > 0 || ae.external {
		return false, nil
	}
	m.uninstall(ae, RemovedExplicitly)
	return true, nil
}

func (m *Manager) apply(def *Definition, src Source) (*ActiveEffect, error) {
	if err := m.checkAttributes(def); err != nil {
		return nil, err
	}

	if def.Duration == Instant {
		if err := m.execute(def, src, src.level()); err != nil {
			return nil, err
		}
		slog.Debug("instant effect executed", "effect", def.ID, "source", src.ActorID)
		return nil, nil
	}

	existing := m.instancesOf(def.ID)
	if len(existing) > 0 {
		switch def.Stacking {
		case StackDeny:
			return nil, fmt.Errorf("%w: %s", ErrStackingDenied, def.ID)

		case StackRefresh:
			ae := existing[0]
			if err := m.relevel(ae, src.level()); err != nil {
				return nil, err
			}
			ae.Remaining = def.Length
			ae.SourceActorID = src.ActorID
			ae.sourceAttrs = src.Attributes
			slog.Debug("effect refreshed", "effect", def.ID, "handle", ae.Handle, "level", ae.Level)
			return ae, nil

		case StackNone:
			ae := existing[0]
			if m.noneMode == NoneRefreshDuration {
				ae.Remaining = def.Length
			}
			return ae, nil

		case StackAggregate:
			if def.MaxStacks > 0 && len(existing) >= def.MaxStacks {
				oldest := existing[0]
				m.uninstall(oldest, RemovedStackLimit)
				slog.Debug("stack limit reached, removed oldest",
					"effect", def.ID,
					"removed", oldest.Handle)
			}
		}
	}

	ae := &ActiveEffect{
		Def:           def,
		SourceActorID: src.ActorID,
		Level:         src.level(),
		Remaining:     def.Length,
		sourceAttrs:   src.Attributes,
	}
	if err := m.install(ae); err != nil {
		return nil, err
	}
	slog.Debug("effect applied", "effect", def.ID, "handle", ae.Handle, "source", src.ActorID)
	return ae, nil
}

// Remove reverses every modifier and tag of the effect at once.
// A second removal of the same handle fails with ErrUnknownHandle.
func (m *Manager) Remove(h Handle) error {
	ae, ok := m.byHandle[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	m.uninstall(ae, RemovedExplicitly)
	return nil
}

// RemoveByDefinition removes every instance of the definition.
// Returns the number removed.
func (m *Manager) RemoveByDefinition(id string) int {
	return m.removeWhere(func(ae *ActiveEffect) bool { return ae.Def.ID == id })
}

// RemoveWithGrantedTag removes every effect granting a tag that matches query.
// Returns the number removed.
func (m *Manager) RemoveWithGrantedTag(query tag.Tag) int {
	return m.removeWhere(func(ae *ActiveEffect) bool {
		return ae.Def.GrantedTags.MatchesAny(tag.Set{query})
	})
}

// Tick advances all timers by dt. Periodic pulses fire for every boundary
// crossed, and expired effects are removed before Tick returns.
func (m *Manager) Tick(dt time.Duration) {
	if dt <= 0 || len(m.active) == 0 {
		return
	}

	// Observers may apply or remove effects while we iterate.
	for _, ae := range slices.Clone(m.active) {
		if _, ok := m.byHandle[ae.Handle]; !ok {
			continue
		}

		pulses := ae.advance(dt)
		for range pulses {
			ae.Pulses++
			src := Source{ActorID: ae.SourceActorID, Level: ae.Level, Attributes: ae.sourceAttrs}
			if err := m.execute(ae.Def, src, ae.Level); err != nil {
				slog.Warn("periodic effect failed", "effect", ae.Def.ID, "handle", ae.Handle, "error", err)
			}
		}

		if ae.IsExpired() {
			if _, ok := m.byHandle[ae.Handle]; ok {
				m.uninstall(ae, RemovedExpired)
				slog.Debug("effect expired", "effect", ae.Def.ID, "handle", ae.Handle)
			}
		}
	}
}

// Get returns the active effect for h.
func (m *Manager) Get(h Handle) (*ActiveEffect, bool) {
	ae, ok := m.byHandle[h]
	return ae, ok
}

// IsActive reports whether h is still on the target.
func (m *Manager) IsActive(h Handle) bool {
	_, ok := m.byHandle[h]
	return ok
}

// Active returns a copy of the active effects in application order.
func (m *Manager) Active() []*ActiveEffect {
	return slices.Clone(m.active)
}

// Count returns the number of active effects.
func (m *Manager) Count() int {
	return len(m.active)
}

// StackCount returns the number of active instances of a definition.
func (m *Manager) StackCount(id string) int {
	n := 0
	for _, ae := range m.active {
		if ae.Def.ID == id {
			n++
		}
	}
	return n
}

// States returns the persisted form of every active effect.
func (m *Manager) States() []State {
	out := make([]State, 0, len(m.active))
	for _, ae := range m.active {
		out = append(out, ae.state())
	}
	return out
}

// Restore reinstalls a persisted effect with its timers, bypassing stacking.
// The instance counts as applied from outside.
func (m *Manager) Restore(def *Definition, st State) (Handle, error) {
	ae, err := m.restore(def, st)
	if err != nil {
		return 0, err
	}
	ae.external = true
	return ae.Handle, nil
}

// RestoreAcquired reinstalls a persisted effect holding one grant, for
// instances owned by an ability.
func (m *Manager) RestoreAcquired(def *Definition, st State) (Handle, error) {
	ae, err := m.restore(def, st)
	if err != nil {
		return 0, err
	}
	ae.grants = 1
	return ae.Handle, nil
}

func (m *Manager) restore(def *Definition, st State) (*ActiveEffect, error) {
	if def.Duration == Instant {
		return nil, fmt.Errorf("%w %q: instant effects are never persisted", ErrInvalidDefinition, def.ID)
	}
	if err := m.checkAttributes(def); err != nil {
		return nil, err
	}
	level := st.Level
	if level == 0 {
		level = 1
	}
	ae := &ActiveEffect{
		Def:           def,
		SourceActorID: st.SourceActorID,
		Level:         level,
		Remaining:     st.Remaining,
		PeriodElapsed: st.PeriodElapsed,
	}
	if err := m.install(ae); err != nil {
		return nil, err
	}
	return ae, nil
}

// checkAttributes verifies every attribute the definition touches exists on
// the target, so application never fails halfway.
func (m *Manager) checkAttributes(def *Definition) error {
	attrs := m.target.Attributes()
	for _, mod := range def.Modifiers {
		if !attrs.Has(mod.Attribute) {
			return fmt.Errorf("effect %s: %w: %s", def.ID, attribute.ErrUnknownAttribute, mod.Attribute)
		}
	}
	return nil
}

// execute runs modifiers and the named execution once against base values,
// then drains meta attributes.
func (m *Manager) execute(def *Definition, src Source, level float64) error {
	attrs := m.target.Attributes()

	outputs := make([]ModifierDef, 0, len(def.Modifiers)+1)
	for _, mod := range def.Modifiers {
		outputs = append(outputs, ModifierDef{Attribute: mod.Attribute, Op: mod.Op, Magnitude: scaled(mod.Op, mod.Magnitude, level)})
	}
	if def.Execution != "" {
		exec, ok := LookupExecution(def.Execution)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownExecution, def.Execution)
		}
		for _, out := range exec(ExecutionContext{Source: src, Target: attrs, Level: level}) {
			if attrs.Has(out.Attribute) {
				outputs = append(outputs, out)
			}
		}
	}

	for _, out := range outputs {
		if err := attrs.ApplyToBase(out.Attribute, out.Op, out.Magnitude); err != nil {
			return fmt.Errorf("executing effect %s: %w", def.ID, err)
		}
	}
	attrs.ConsumeMeta()
	return nil
}

// install registers ae and puts its modifiers and tags on the target.
// Tags go last so listeners observe a fully applied effect.
func (m *Manager) install(ae *ActiveEffect) error {
	m.nextHandle++
	ae.Handle = m.nextHandle

	if !ae.Def.IsPeriodic() {
		mods, err := m.addModifiers(ae.Def, ae.Handle, ae.Level)
		if err != nil {
			return err
		}
		ae.modifiers = mods
	}

	m.active = append(m.active, ae)
	m.byHandle[ae.Handle] = ae

	m.target.Tags().AddAll(ae.Def.GrantedTags)
	return nil
}

// uninstall reverses ae. Tags go last, after the effect is unregistered.
func (m *Manager) uninstall(ae *ActiveEffect, reason RemoveReason) {
	attrs := m.target.Attributes()
	for _, h := range ae.modifiers {
		attrs.RemoveModifier(h)
	}
	ae.modifiers = nil

	delete(m.byHandle, ae.Handle)
	m.active = slices.DeleteFunc(m.active, func(x *ActiveEffect) bool { return x == ae })

	m.target.Tags().RemoveAll(ae.Def.GrantedTags)

	for _, fn := range m.onRemoved {
		fn(ae, reason)
	}
}

// relevel swaps the modifiers of ae for ones scaled to level.
func (m *Manager) relevel(ae *ActiveEffect, level float64) error {
	if level == ae.Level {
		return nil
	}
	if !ae.Def.IsPeriodic() {
		mods, err := m.addModifiers(ae.Def, ae.Handle, level)
		if err != nil {
			return err
		}
		attrs := m.target.Attributes()
		for _, h := range ae.modifiers {
			attrs.RemoveModifier(h)
		}
		ae.modifiers = mods
	}
	ae.Level = level
	return nil
}

// addModifiers installs the definition modifiers, rolling back on failure.
func (m *Manager) addModifiers(def *Definition, h Handle, level float64) ([]attribute.ModifierHandle, error) {
	attrs := m.target.Attributes()
	source := fmt.Sprintf("%s#%d", def.ID, h)

	out := make([]attribute.ModifierHandle, 0, len(def.Modifiers))
	for _, mod := range def.Modifiers {
		mh, err := attrs.AddModifier(mod.Attribute, attribute.Modifier{
			Op:        mod.Op,
			Magnitude: scaled(mod.Op, mod.Magnitude, level),
			Source:    source,
		})
		if err != nil {
			for _, added := range out {
				attrs.RemoveModifier(added)
			}
			return nil, fmt.Errorf("applying effect %s: %w", def.ID, err)
		}
		out = append(out, mh)
	}
	return out, nil
}

func (m *Manager) instancesOf(id string) []*ActiveEffect {
	var out []*ActiveEffect
	for _, ae := range m.active {
		if ae.Def.ID == id {
			out = append(out, ae)
		}
	}
	return out
}

func (m *Manager) removeWhere(match func(*ActiveEffect) bool) int {
	n := 0
	for _, ae := range slices.Clone(m.active) {
		if _, ok := m.byHandle[ae.Handle]; !ok || !match(ae) {
			continue
		}
		m.uninstall(ae, RemovedExplicitly)
		n++
	}
	return n
}

// scaled applies the effect level to a modifier magnitude. Add scales
// linearly, Multiply scales its delta from 1 (×1.5 at level 2 is ×2),
// Override is a fixed value and ignores the level.
func scaled(op attribute.Op, magnitude, level float64) float64 {
	switch op {
	case attribute.OpAdd:
		return magnitude * level
	case attribute.OpMultiply:
		return 1 + (magnitude-1)*level
	default:
		return magnitude
	}
}
