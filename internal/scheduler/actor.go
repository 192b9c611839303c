package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

// actor is the per-actor state. Every field below mu is guarded by it.
type actor struct {
	mu sync.Mutex

	id        string
	attrs     *attribute.Set
	tags      *tag.Container
	effects   *effect.Manager
	abilities map[string]*ability.Instance
	order     []*ability.Instance // grant order, keeps iteration deterministic

	// Tag listener re-entrancy: nested changes raised while cancelling are
	// folded into the running evaluation instead of recursing.
	evaluating bool
	dirty      bool
}

func (a *actor) ID() string                 { return a.id }
func (a *actor) Attributes() *attribute.Set { return a.attrs }
func (a *actor) Tags() *tag.Container       { return a.tags }
func (a *actor) Effects() *effect.Manager   { return a.effects }

// onTagChange cancels every Activating ability whose BlockedTags just
// appeared. Removals can never newly block an ability.
func (a *actor) onTagChange(_ *tag.Container, ch tag.Change) {
	if !ch.Added {
		return
	}
	if a.evaluating {
		a.dirty = true
		return
	}

	a.evaluating = true
	defer func() { a.evaluating = false }()

	for {
		a.dirty = false
		for _, in := range a.order {
			if in.State() != ability.Activating || !in.Blocked(a) {
				continue
			}
			slog.Debug("blocked tag appeared, cancelling activation",
				"actor", a.id,
				"ability", in.ID(),
				"tag", ch.Tag.Path())
			in.Cancel(a)
		}
		if !a.dirty {
			return
		}
	}
}

// onEffectRemoved routes cooldown expiry back to the owning instance.
func (a *actor) onEffectRemoved(ae *effect.ActiveEffect, _ effect.RemoveReason) {
	for _, in := range a.order {
		if in.CooldownEnded(ae.Handle) {
			return
		}
	}
}

// cancelTargets returns every Activating or Active ability, other than
// except, whose own tags match one of cancelTags.
func (a *actor) cancelTargets(except *ability.Instance, cancelTags tag.Set) []*ability.Instance {
	if len(cancelTags) == 0 {
		return nil
	}
	var out []*ability.Instance
	for _, in := range a.order {
		if in == except {
			continue
		}
		st := in.State()
		if st != ability.Activating && st != ability.Active {
			continue
		}
		if in.Definition().Tags.MatchesAny(cancelTags) {
			out = append(out, in)
		}
	}
	return out
}

// tagsAfterCancel returns the tags the actor would hold once targets are
// cancelled: their granted tags are released, and so are the tags of every
// effect whose last grant they hold. The actor is left untouched.
func (a *actor) tagsAfterCancel(targets []*ability.Instance) *tag.Container {
	c := a.tags.Clone()
	releases := make(map[effect.Handle]int)
	for _, in := range targets {
		c.RemoveAll(in.GrantedTags())
		for _, h := range in.OwnedEffects() {
			releases[h]++
		}
	}
	for h, n := range releases {
		ae, ok := a.effects.Get(h)
		if !ok || ae.External() || n < ae.Grants() {
			continue
		}
		c.RemoveAll(ae.Def.GrantedTags)
	}
	return c
}

// tick advances effects first, then ability timers, so a cooldown started
// by a completion in this tick is not shortened by the same dt.
func (a *actor) tick(dt time.Duration) {
	a.effects.Tick(dt)
	for _, in := range a.order {
		if err := in.Advance(a, dt); err != nil {
			slog.Debug("ability advance failed", "actor", a.id, "ability", in.ID(), "error", err)
		}
	}
}

// ownedEffects returns the handles held by ability instances: granted
// effects and cooldowns. Abilities restore those themselves.
func (a *actor) ownedEffects() map[effect.Handle]bool {
	owned := make(map[effect.Handle]bool)
	for _, in := range a.order {
		for _, h := range in.OwnedEffects() {
			owned[h] = true
		}
		if h := in.CooldownHandle(); h != 0 {
			owned[h] = true
		}
	}
	return owned
}
