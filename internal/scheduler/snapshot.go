package scheduler

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/effect"
)

// ActorSnapshot is everything needed to rebuild an actor across sessions:
// base attribute values, active effects with their timers and ability states.
// Effects held only by abilities are not listed; the abilities restore them.
type ActorSnapshot struct {
	ActorID    string
	Attributes map[string]float64
	Effects    []effect.State
	Abilities  []ability.Snapshot
}

// Snapshot captures the actor.
func (s *Scheduler) Snapshot(actorID string) (ActorSnapshot, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return ActorSnapshot{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := ActorSnapshot{
		ActorID:    a.id,
		Attributes: a.attrs.Snapshot(),
	}

	owned := a.ownedEffects()
	states := a.effects.States()
	for i, ae := range a.effects.Active() {
		if owned[ae.Handle] && !ae.External() {
			continue
		}
		snap.Effects = append(snap.Effects, states[i])
	}

	for _, in := range a.order {
		snap.Abilities = append(snap.Abilities, in.Snapshot(a))
	}
	return snap, nil
}

// Restore rebuilds a registered actor from snap. Unknown attributes in the
// snapshot are skipped so that schema removals do not break old saves;
// unknown effects and abilities are reported after everything else has
// been restored.
func (s *Scheduler) Restore(snap ActorSnapshot) error {
	a, err := s.actor(snap.ActorID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(snap.Attributes)) {
		if !a.attrs.Has(name) {
			continue
		}
		if err := a.attrs.SetBase(name, snap.Attributes[name]); err != nil {
			errs = append(errs, err)
		}
	}

	for _, st := range snap.Effects {
		def, ok := s.defs.Effect(st.DefinitionID)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownEffect, st.DefinitionID))
			continue
		}
		if _, err := a.effects.Restore(def, st); err != nil {
			errs = append(errs, fmt.Errorf("restoring effect %s: %w", st.DefinitionID, err))
		}
	}

	for _, as := range snap.Abilities {
		in, err := s.grant(a, as.AbilityID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := in.Restore(a, as); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("restoring actor %s: %w", snap.ActorID, err)
	}
	return nil
}
