package ability

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

// State is the lifecycle state of one ability instance.
type State int8

const (
	Inactive State = iota
	Activating
	Active
	Cancelling
	CoolingDown
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Cancelling:
		return "cancelling"
	case CoolingDown:
		return "cooling_down"
	default:
		return fmt.Sprintf("state(%d)", int8(s))
	}
}

// ParseState parses the String form of a State.
func ParseState(s string) (State, error) {
	for st := Inactive; st <= CoolingDown; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown ability state %q", s)
}

// Owner is the actor an ability instance belongs to.
type Owner interface {
	ID() string
	Attributes() *attribute.Set
	Tags() *tag.Container
	Effects() *effect.Manager
}

// Transition is emitted on every state change.
type Transition struct {
	Ability string
	From    State
	To      State
}

// Instance is the per-actor runtime of one ability definition.
// It owns the tags and effects it grants while Active and releases them on
// every exit from Active.
//
// Not safe for concurrent use: the scheduler serializes access per actor.
type Instance struct {
	def         *Definition
	cooldownDef *effect.Definition
	state       State

	castRemaining   time.Duration
	activeRemaining time.Duration

	grantedTags    tag.Set
	grantedEffects []effect.Handle
	cooldown       effect.Handle

	observers []func(Transition)
}

// NewInstance creates an Inactive instance of def.
func NewInstance(def *Definition) *Instance {
	return &Instance{
		def:         def,
		cooldownDef: def.cooldownEffect(),
	}
}

// Definition returns the static definition.
func (in *Instance) Definition() *Definition { return in.def }

// ID returns the ability definition ID.
func (in *Instance) ID() string { return in.def.ID }

// State returns the current lifecycle state.
func (in *Instance) State() State { return in.state }

// CooldownHandle returns the active cooldown effect, zero if none.
func (in *Instance) CooldownHandle() effect.Handle { return in.cooldown }

// OwnedEffects returns the handles of effects granted while Active.
func (in *Instance) OwnedEffects() []effect.Handle {
	return append([]effect.Handle(nil), in.grantedEffects...)
}

// GrantedTags returns the tags granted while Active.
func (in *Instance) GrantedTags() tag.Set { return in.grantedTags }

// OnTransition registers an observer of state changes.
func (in *Instance) OnTransition(fn func(Transition)) {
	in.observers = append(in.observers, fn)
}

// Check evaluates every activation guard without changing state.
func (in *Instance) Check(o Owner) error {
	return in.CheckWith(o, o.Tags())
}

// CheckWith is Check with the tag guards evaluated against tags instead of
// the owner's container. The scheduler passes the tags the owner would hold
// once pending cancellations are done.
func (in *Instance) CheckWith(o Owner, tags *tag.Container) error {
	switch in.state {
	case Inactive:
	case CoolingDown:
		return &ActivationError{Ability: in.def.ID, Reason: ReasonOnCooldown}
	default:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyActive, in.def.ID, in.state)
	}

	for _, t := range in.def.BlockedTags {
		if tags.Has(t) {
			return &ActivationError{Ability: in.def.ID, Reason: ReasonTagBlocked, Detail: t.Path()}
		}
	}
	for _, t := range in.def.RequiredTags {
		if !tags.Has(t) {
			return &ActivationError{Ability: in.def.ID, Reason: ReasonTagMissing, Detail: t.Path()}
		}
	}
	if err := in.checkCosts(o.Attributes()); err != nil {
		return err
	}
	// Cooldown groups: another ability's cooldown may share our tags.
	for _, t := range in.def.CooldownTags {
		if tags.Has(t) {
			return &ActivationError{Ability: in.def.ID, Reason: ReasonOnCooldown, Detail: t.Path()}
		}
	}
	return nil
}

// Blocked reports whether a BlockedTags entry is currently present.
func (in *Instance) Blocked(o Owner) bool {
	return o.Tags().HasAny(in.def.BlockedTags)
}

// Begin moves Inactive → Activating after the guards pass.
func (in *Instance) Begin(o Owner) error {
	if err := in.Check(o); err != nil {
		return err
	}
	in.castRemaining = in.def.CastTime
	in.transition(Activating)
	return nil
}

// Commit moves Activating → Active: costs are re-checked and debited at
// once, then tags and effects are granted. If any grant fails, everything is
// rolled back and the instance returns to Inactive.
func (in *Instance) Commit(o Owner) error {
	if in.state != Activating {
		return fmt.Errorf("%w: commit %s from %s", ErrInvalidTransition, in.def.ID, in.state)
	}

	attrs := o.Attributes()
	if err := in.checkCosts(attrs); err != nil {
		in.castRemaining = 0
		in.transition(Inactive)
		return err
	}

	bases := make(map[string]float64, len(in.def.Costs))
	for _, c := range in.def.Costs {
		b, _ := attrs.Base(c.Attribute)
		bases[c.Attribute] = b
	}
	for _, c := range in.def.Costs {
		_ = attrs.ApplyToBase(c.Attribute, attribute.OpAdd, -c.Amount)
	}

	in.transition(Active)
	in.activeRemaining = in.def.ActiveDuration

	if err := in.grant(o); err != nil {
		for name, b := range bases {
			_ = attrs.SetBase(name, b)
		}
		in.activeRemaining = 0
		in.transition(Inactive)
		return fmt.Errorf("committing %s: %w", in.def.ID, err)
	}
	return nil
}

// Cancel moves Activating|Active → Cancelling → Inactive, releasing every
// grant before returning. Returns false if there was nothing to cancel.
func (in *Instance) Cancel(o Owner) bool {
	if in.state != Activating && in.state != Active {
		return false
	}
	in.transition(Cancelling)
	in.release(o)
	in.castRemaining = 0
	in.activeRemaining = 0
	in.transition(Inactive)
	return true
}

// Complete ends a normal activation: Active → CoolingDown, or straight to
// Inactive when the ability has no cooldown.
func (in *Instance) Complete(o Owner) error {
	if in.state != Active {
		return fmt.Errorf("%w: complete %s from %s", ErrInvalidTransition, in.def.ID, in.state)
	}
	in.release(o)
	in.activeRemaining = 0

	if in.def.Cooldown <= 0 {
		in.transition(Inactive)
		return nil
	}

	h, err := o.Effects().Acquire(in.cooldownDef, effect.Source{ActorID: o.ID()})
	if err != nil {
		in.transition(Inactive)
		return fmt.Errorf("applying cooldown for %s: %w", in.def.ID, err)
	}
	in.cooldown = h
	in.transition(CoolingDown)
	return nil
}

// CooldownEnded moves CoolingDown → Inactive once the cooldown effect is gone.
func (in *Instance) CooldownEnded(h effect.Handle) bool {
	if in.state != CoolingDown || h != in.cooldown {
		return false
	}
	in.cooldown = 0
	in.transition(Inactive)
	return true
}

// Advance runs the cast and active timers. At most one transition happens
// per call. A commit failure at the end of the cast is returned.
func (in *Instance) Advance(o Owner, dt time.Duration) error {
	switch in.state {
	case Activating:
		in.castRemaining -= dt
		if in.castRemaining <= 0 {
			return in.Commit(o)
		}
	case Active:
		if in.def.ActiveDuration <= 0 {
			return nil
		}
		in.activeRemaining -= dt
		if in.activeRemaining <= 0 {
			return in.Complete(o)
		}
	}
	return nil
}

// Snapshot is the persisted form of an instance.
type Snapshot struct {
	AbilityID         string
	State             State
	CastRemaining     time.Duration
	ActiveRemaining   time.Duration
	CooldownRemaining time.Duration
}

// Snapshot captures the instance. Cancelling is transient and is saved as Inactive.
func (in *Instance) Snapshot(o Owner) Snapshot {
	s := Snapshot{AbilityID: in.def.ID, State: in.state}
	switch in.state {
	case Activating:
		s.CastRemaining = in.castRemaining
	case Active:
		s.ActiveRemaining = in.activeRemaining
	case CoolingDown:
		if ae, ok := o.Effects().Get(in.cooldown); ok {
			s.CooldownRemaining = ae.Remaining
		}
	case Cancelling:
		s.State = Inactive
	}
	return s
}

// Restore rebuilds an Inactive instance from a snapshot. Active instances
// get their grants back without paying costs again.
func (in *Instance) Restore(o Owner, s Snapshot) error {
	if in.state != Inactive {
		return fmt.Errorf("%w: restore %s from %s", ErrInvalidTransition, in.def.ID, in.state)
	}

	switch s.State {
	case Inactive, Cancelling:
		return nil
	case Activating:
		in.castRemaining = s.CastRemaining
		in.transition(Activating)
	case Active:
		in.transition(Active)
		in.activeRemaining = s.ActiveRemaining
		if err := in.grant(o); err != nil {
			in.transition(Inactive)
			return fmt.Errorf("restoring %s: %w", in.def.ID, err)
		}
	case CoolingDown:
		if s.CooldownRemaining <= 0 {
			return nil
		}
		h, err := o.Effects().RestoreAcquired(in.cooldownDef, effect.State{
			DefinitionID:  in.cooldownDef.ID,
			SourceActorID: o.ID(),
			Remaining:     s.CooldownRemaining,
		})
		if err != nil {
			return fmt.Errorf("restoring cooldown for %s: %w", in.def.ID, err)
		}
		in.cooldown = h
		in.transition(CoolingDown)
	default:
		return fmt.Errorf("%w: unknown state %d", ErrInvalidTransition, s.State)
	}
	return nil
}

// checkCosts compares the total cost per attribute with its current value;
// several entries on one attribute are paid together.
func (in *Instance) checkCosts(attrs *attribute.Set) error {
	total := make(map[string]float64, len(in.def.Costs))
	var order []string
	for _, c := range in.def.Costs {
		if _, seen := total[c.Attribute]; !seen {
			order = append(order, c.Attribute)
		}
		total[c.Attribute] += c.Amount
	}

	for _, name := range order {
		v, err := attrs.CurrentValue(name)
		if err != nil {
			return fmt.Errorf("checking cost of %s: %w", in.def.ID, err)
		}
		if v < total[name] {
			return &ActivationError{
				Ability: in.def.ID,
				Reason:  ReasonCostNotMet,
				Detail:  fmt.Sprintf("%s %g < %g", name, v, total[name]),
			}
		}
	}
	return nil
}

// grant applies GrantedTags and takes a grant on every GrantedEffects
// instance. An instance shared with another ability or applied from outside
// outlives this ability's release.
func (in *Instance) grant(o Owner) error {
	effects := o.Effects()
	handles := make([]effect.Handle, 0, len(in.def.GrantedEffects))
	for _, ed := range in.def.GrantedEffects {
		h, err := effects.Acquire(ed, effect.Source{ActorID: o.ID()})
		if err != nil {
			for _, applied := range handles {
				_, _ = effects.Release(applied)
			}
			return err
		}
		handles = append(handles, h)
	}
	in.grantedEffects = handles

	in.grantedTags = in.def.GrantedTags
	o.Tags().AddAll(in.grantedTags)
	return nil
}

// release drops every grant taken by grant. Effects already removed by
// someone else are skipped.
func (in *Instance) release(o Owner) {
	effects := o.Effects()
	for _, h := range in.grantedEffects {
		if _, err := effects.Release(h); err != nil && !errors.Is(err, effect.ErrUnknownHandle) {
			slog.Warn("releasing granted effect", "ability", in.def.ID, "handle", h, "error", err)
		}
	}
	in.grantedEffects = nil

	if len(in.grantedTags) > 0 {
		tags := in.grantedTags
		in.grantedTags = nil
		o.Tags().RemoveAll(tags)
	}
}

func (in *Instance) transition(to State) {
	from := in.state
	in.state = to
	slog.Debug("ability transition", "ability", in.def.ID, "from", from, "to", to)
	for _, fn := range in.observers {
		fn(Transition{Ability: in.def.ID, From: from, To: to})
	}
}
