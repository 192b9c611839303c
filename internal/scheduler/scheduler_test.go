package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

// testDefs is an in-memory Definitions.
type testDefs struct {
	abilities map[string]*ability.Definition
	effects   map[string]*effect.Definition
}

func (d *testDefs) Ability(id string) (*ability.Definition, bool) {
	def, ok := d.abilities[id]
	return def, ok
}

func (d *testDefs) Effect(id string) (*effect.Definition, bool) {
	def, ok := d.effects[id]
	return def, ok
}

func (d *testDefs) addAbility(def *ability.Definition) { d.abilities[def.ID] = def }
func (d *testDefs) addEffect(def *effect.Definition)   { d.effects[def.ID] = def }

func newTestDefs() *testDefs {
	return &testDefs{
		abilities: make(map[string]*ability.Definition),
		effects:   make(map[string]*effect.Definition),
	}
}

func characterAttrs() []attribute.Definition {
	return []attribute.Definition{
		{Name: "MaxHealth", Base: 100, Min: attribute.Bound(0)},
		{Name: "Health", Base: 100, Min: attribute.Bound(0), MaxAttr: "MaxHealth"},
		{Name: "Mana", Base: 50, Min: attribute.Bound(0)},
		{Name: "Armor", Base: 50},
		{Name: "RawDamage", Base: 10},
		{Name: "MaxWalkSpeed", Base: 600, Min: attribute.Bound(0)},
		{Name: "ReceivedDamage", Meta: true, DrainInto: "Health"},
	}
}

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) observe(actorID string, tr ability.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, fmt.Sprintf("%s %s:%s->%s", actorID, tr.Ability, tr.From, tr.To))
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

func newScheduler(t *testing.T, defs *testDefs, opts ...Option) *Scheduler {
	t.Helper()
	s := New(defs, opts...)
	require.NoError(t, s.AddActor("hero", characterAttrs()))
	return s
}

func currentOf(t *testing.T, s *Scheduler, actorID, attr string) float64 {
	t.Helper()
	v, err := s.CurrentValue(actorID, attr)
	require.NoError(t, err)
	return v
}

func stateOf(t *testing.T, s *Scheduler, actorID, abilityID string) ability.State {
	t.Helper()
	st, err := s.State(actorID, abilityID)
	require.NoError(t, err)
	return st
}

func TestRequestActivation_CostNotMet(t *testing.T) {
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:    "Fireball",
		Costs: []ability.Cost{{Attribute: "Mana", Amount: 10}},
	})
	s := newScheduler(t, defs)
	require.NoError(t, s.GrantAbility("hero", "Fireball"))

	// Mana 5 through an external instant drain.
	defs.addEffect(&effect.Definition{
		ID:        "Drain",
		Duration:  effect.Instant,
		Modifiers: []effect.ModifierDef{{Attribute: "Mana", Op: attribute.OpOverride, Magnitude: 5}},
	})
	_, err := s.ApplyEffect("hero", "Drain", "", 1)
	require.NoError(t, err)

	err = s.RequestActivation("hero", "Fireball")
	require.ErrorIs(t, err, ability.ErrActivationFailed)
	reason, ok := ability.FailureReason(err)
	require.True(t, ok)
	assert.Equal(t, ability.ReasonCostNotMet, reason)
	assert.Equal(t, 5.0, currentOf(t, s, "hero", "Mana"))
	assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Fireball"))
}

func TestRequestActivation_CancelsBeforeActivating(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:          "Guard",
		Tags:        tag.Set{reg.MustIntern("Stance.Defensive")},
		GrantedTags: tag.Set{reg.MustIntern("State.Guarding")},
	})
	defs.addAbility(&ability.Definition{
		ID:         "Charge",
		CancelTags: tag.Set{reg.MustIntern("Stance")},
		CastTime:   time.Second,
	})

	rec := &recorder{}
	s := newScheduler(t, defs, WithTransitionObserver(rec.observe))
	require.NoError(t, s.GrantAbility("hero", "Guard"))
	require.NoError(t, s.GrantAbility("hero", "Charge"))

	require.NoError(t, s.RequestActivation("hero", "Guard"))
	assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Guard"))
	rec.reset()

	require.NoError(t, s.RequestActivation("hero", "Charge"))

	assert.Equal(t, []string{
		"hero Guard:active->cancelling",
		"hero Guard:cancelling->inactive",
		"hero Charge:inactive->activating",
	}, rec.got)
	has, err := s.HasTag("hero", reg.MustIntern("State.Guarding"))
	require.NoError(t, err)
	assert.False(t, has, "cancelled ability released its grants")
}

func TestRequestActivation_CancelledBlockerDoesNotBlock(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:          "Glide",
		Tags:        tag.Set{reg.MustIntern("Movement.Glide")},
		GrantedTags: tag.Set{reg.MustIntern("Movement.Gliding")},
	})
	defs.addAbility(&ability.Definition{
		ID:          "Dash",
		BlockedTags: tag.Set{reg.MustIntern("Movement.Gliding")},
		CancelTags:  tag.Set{reg.MustIntern("Movement.Glide")},
	})
	defs.addAbility(&ability.Definition{
		ID:          "Jump",
		BlockedTags: tag.Set{reg.MustIntern("Movement.Gliding")},
	})
	s := newScheduler(t, defs)
	for _, id := range []string{"Glide", "Dash", "Jump"} {
		require.NoError(t, s.GrantAbility("hero", id))
	}

	require.NoError(t, s.RequestActivation("hero", "Glide"))

	err := s.RequestActivation("hero", "Jump")
	reason, _ := ability.FailureReason(err)
	assert.Equal(t, ability.ReasonTagBlocked, reason)
	assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Glide"), "a failed request cancels nothing")

	require.NoError(t, s.RequestActivation("hero", "Dash"))
	assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Glide"))
	assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Dash"))
}

func TestRequestActivation_FailedGuardCancelsNothing(t *testing.T) {
	reg := tag.NewRegistry()
	stunned := reg.MustIntern("State.Stunned")

	tests := []struct {
		name       string
		guardTags  tag.Set
		guardBuffs []string
		external   []string // applied from outside after Guard is active
		chargeCost float64  // Mana; hero holds 50
		wantErr    bool
		wantReason ability.Reason
	}{
		{
			name:       "block applied from outside",
			external:   []string{"Stun"},
			wantErr:    true,
			wantReason: ability.ReasonTagBlocked,
		},
		{
			name:       "block held by the target and from outside",
			guardTags:  tag.Set{stunned},
			external:   []string{"Stun"},
			wantErr:    true,
			wantReason: ability.ReasonTagBlocked,
		},
		{
			name:       "cost not met",
			chargeCost: 80,
			wantErr:    true,
			wantReason: ability.ReasonCostNotMet,
		},
		{
			name:       "block held through an effect of the target",
			guardBuffs: []string{"Stun"},
		},
		{
			name:       "block held through an effect shared with an outside application",
			guardBuffs: []string{"Stun"},
			external:   []string{"Stun"},
			wantErr:    true,
			wantReason: ability.ReasonTagBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := newTestDefs()
			stun := &effect.Definition{
				ID:          "Stun",
				Duration:    effect.Infinite,
				GrantedTags: tag.Set{stunned},
			}
			defs.addEffect(stun)

			guard := &ability.Definition{
				ID:          "Guard",
				Tags:        tag.Set{reg.MustIntern("Stance.Defensive")},
				GrantedTags: tt.guardTags,
			}
			for _, id := range tt.guardBuffs {
				ed, _ := defs.Effect(id)
				guard.GrantedEffects = append(guard.GrantedEffects, ed)
			}
			defs.addAbility(guard)

			charge := &ability.Definition{
				ID:          "Charge",
				CancelTags:  tag.Set{reg.MustIntern("Stance")},
				BlockedTags: tag.Set{stunned},
			}
			if tt.chargeCost > 0 {
				charge.Costs = []ability.Cost{{Attribute: "Mana", Amount: tt.chargeCost}}
			}
			defs.addAbility(charge)

			rec := &recorder{}
			s := newScheduler(t, defs, WithTransitionObserver(rec.observe))
			require.NoError(t, s.GrantAbility("hero", "Guard"))
			require.NoError(t, s.GrantAbility("hero", "Charge"))
			require.NoError(t, s.RequestActivation("hero", "Guard"))
			for _, id := range tt.external {
				_, err := s.ApplyEffect("hero", id, "", 1)
				require.NoError(t, err)
			}
			rec.reset()

			err := s.RequestActivation("hero", "Charge")
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Guard"))
				assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Charge"))
				return
			}

			reason, ok := ability.FailureReason(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Guard"))
			assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Charge"))
			assert.Empty(t, rec.got, "no transition on a failed request")
			assert.Equal(t, 50.0, currentOf(t, s, "hero", "Mana"))
		})
	}
}

func TestGrantedEffects_Ownership(t *testing.T) {
	newDefs := func() *testDefs {
		defs := newTestDefs()
		haste := &effect.Definition{
			ID:        "Haste",
			Duration:  effect.Infinite,
			Modifiers: []effect.ModifierDef{{Attribute: "MaxWalkSpeed", Op: attribute.OpMultiply, Magnitude: 2}},
		}
		defs.addEffect(haste)
		defs.addAbility(&ability.Definition{ID: "Sprint", GrantedEffects: []*effect.Definition{haste}})
		defs.addAbility(&ability.Definition{ID: "Rush", GrantedEffects: []*effect.Definition{haste}})
		return defs
	}

	t.Run("abilities share a granted effect", func(t *testing.T) {
		s := newScheduler(t, newDefs())
		require.NoError(t, s.GrantAbility("hero", "Sprint"))
		require.NoError(t, s.GrantAbility("hero", "Rush"))
		require.NoError(t, s.RequestActivation("hero", "Sprint"))
		require.NoError(t, s.RequestActivation("hero", "Rush"))
		assert.Equal(t, 1200.0, currentOf(t, s, "hero", "MaxWalkSpeed"))

		require.NoError(t, s.Cancel("hero", "Sprint"))
		assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Rush"))
		assert.Equal(t, 1200.0, currentOf(t, s, "hero", "MaxWalkSpeed"), "Rush still holds Haste")

		require.NoError(t, s.End("hero", "Rush"))
		assert.Equal(t, 600.0, currentOf(t, s, "hero", "MaxWalkSpeed"))
		effects, err := s.ActiveEffects("hero")
		require.NoError(t, err)
		assert.Empty(t, effects)
	})

	t.Run("ability grants an effect applied from outside", func(t *testing.T) {
		s := newScheduler(t, newDefs())
		require.NoError(t, s.GrantAbility("hero", "Sprint"))
		h, err := s.ApplyEffect("hero", "Haste", "", 1)
		require.NoError(t, err)

		require.NoError(t, s.RequestActivation("hero", "Sprint"))
		require.NoError(t, s.Cancel("hero", "Sprint"))
		assert.Equal(t, 1200.0, currentOf(t, s, "hero", "MaxWalkSpeed"), "outside application survives")

		snap, err := s.Snapshot("hero")
		require.NoError(t, err)
		require.Len(t, snap.Effects, 1)
		assert.Equal(t, "Haste", snap.Effects[0].DefinitionID)

		require.NoError(t, s.RemoveEffect("hero", h))
		assert.Equal(t, 600.0, currentOf(t, s, "hero", "MaxWalkSpeed"))
	})
}

func TestTagListener_CancelsBlockedActivation(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:          "Fireball",
		Costs:       []ability.Cost{{Attribute: "Mana", Amount: 10}},
		BlockedTags: tag.Set{reg.MustIntern("State.Stunned")},
		CastTime:    2 * time.Second,
	})
	defs.addAbility(&ability.Definition{
		ID:          "Guard",
		BlockedTags: tag.Set{reg.MustIntern("State.Stunned")},
	})
	defs.addEffect(&effect.Definition{
		ID:          "Stun",
		Duration:    effect.HasDuration,
		Length:      time.Second,
		GrantedTags: tag.Set{reg.MustIntern("State.Stunned.Hard")},
	})
	s := newScheduler(t, defs)
	require.NoError(t, s.GrantAbility("hero", "Fireball"))
	require.NoError(t, s.GrantAbility("hero", "Guard"))

	require.NoError(t, s.RequestActivation("hero", "Guard"))
	require.NoError(t, s.RequestActivation("hero", "Fireball"))
	require.NoError(t, s.Tick("hero", time.Second))
	assert.Equal(t, ability.Activating, stateOf(t, s, "hero", "Fireball"))

	_, err := s.ApplyEffect("hero", "Stun", "", 1)
	require.NoError(t, err)

	assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Fireball"), "blocked before reaching Active")
	assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Guard"), "active abilities are not re-gated")
	assert.Equal(t, 50.0, currentOf(t, s, "hero", "Mana"), "cost is never debited")

	require.NoError(t, s.Tick("hero", time.Second))
	assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Fireball"), "cast timer does not run after cancel")
}

func TestTick_CastActiveCooldown(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:             "Dash",
		Costs:          []ability.Cost{{Attribute: "Mana", Amount: 20}},
		Cooldown:       2 * time.Second,
		CooldownTags:   tag.Set{reg.MustIntern("Cooldown.Dash")},
		CastTime:       500 * time.Millisecond,
		ActiveDuration: time.Second,
		GrantedEffects: []*effect.Definition{{
			ID:        "DashSpeed",
			Duration:  effect.Infinite,
			Modifiers: []effect.ModifierDef{{Attribute: "MaxWalkSpeed", Op: attribute.OpMultiply, Magnitude: 2}},
		}},
	})
	s := newScheduler(t, defs)
	require.NoError(t, s.GrantAbility("hero", "Dash"))

	require.NoError(t, s.RequestActivation("hero", "Dash"))
	assert.Equal(t, ability.Activating, stateOf(t, s, "hero", "Dash"))
	assert.Equal(t, 50.0, currentOf(t, s, "hero", "Mana"))

	require.NoError(t, s.Tick("hero", 500*time.Millisecond))
	assert.Equal(t, ability.Active, stateOf(t, s, "hero", "Dash"))
	assert.Equal(t, 30.0, currentOf(t, s, "hero", "Mana"))
	assert.Equal(t, 1200.0, currentOf(t, s, "hero", "MaxWalkSpeed"))

	require.NoError(t, s.Tick("hero", time.Second))
	assert.Equal(t, ability.CoolingDown, stateOf(t, s, "hero", "Dash"))
	assert.Equal(t, 600.0, currentOf(t, s, "hero", "MaxWalkSpeed"))

	err := s.CanActivate("hero", "Dash")
	reason, _ := ability.FailureReason(err)
	assert.Equal(t, ability.ReasonOnCooldown, reason)

	require.NoError(t, s.Tick("hero", time.Second))
	assert.Equal(t, ability.CoolingDown, stateOf(t, s, "hero", "Dash"), "cooldown started this tick is not shortened by it")

	require.NoError(t, s.Tick("hero", time.Second))
	assert.Equal(t, ability.Inactive, stateOf(t, s, "hero", "Dash"))
	assert.NoError(t, s.CanActivate("hero", "Dash"))
}

func TestEnd_StartsCooldown(t *testing.T) {
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{ID: "Attack", Cooldown: time.Second})
	s := newScheduler(t, defs)
	require.NoError(t, s.GrantAbility("hero", "Attack"))

	require.NoError(t, s.RequestActivation("hero", "Attack"))
	require.NoError(t, s.End("hero", "Attack"))
	assert.Equal(t, ability.CoolingDown, stateOf(t, s, "hero", "Attack"))

	assert.ErrorIs(t, s.End("hero", "Attack"), ability.ErrInvalidTransition)
	require.NoError(t, s.Cancel("hero", "Attack"), "cancel outside Activating/Active is a no-op")
	assert.Equal(t, ability.CoolingDown, stateOf(t, s, "hero", "Attack"))
}

func TestApplyEffect_CapturesSource(t *testing.T) {
	defs := newTestDefs()
	defs.addEffect(&effect.Definition{ID: "Hit", Duration: effect.Instant, Execution: "AttackDamage"})
	s := newScheduler(t, defs)
	require.NoError(t, s.AddActor("wolf", characterAttrs()))

	_, err := s.ApplyEffect("wolf", "Hit", "hero", 1)
	require.NoError(t, err)

	// R=10, Armor=50: 5·100/(50+50)+1 = 6
	assert.Equal(t, 94.0, currentOf(t, s, "wolf", "Health"))
	assert.Equal(t, 0.0, currentOf(t, s, "wolf", "ReceivedDamage"))
	assert.Equal(t, 100.0, currentOf(t, s, "hero", "Health"))
}

func TestApplyEffect_StackingDenied(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addEffect(&effect.Definition{
		ID:          "Shield",
		Duration:    effect.Infinite,
		Stacking:    effect.StackDeny,
		Modifiers:   []effect.ModifierDef{{Attribute: "Armor", Op: attribute.OpAdd, Magnitude: 25}},
		GrantedTags: tag.Set{reg.MustIntern("Buff.Shield")},
	})
	s := newScheduler(t, defs)

	h, err := s.ApplyEffect("hero", "Shield", "hero", 1)
	require.NoError(t, err)
	assert.NotZero(t, h)
	tagsBefore, err := s.Tags("hero")
	require.NoError(t, err)

	_, err = s.ApplyEffect("hero", "Shield", "hero", 1)
	require.ErrorIs(t, err, effect.ErrStackingDenied)

	assert.Equal(t, 75.0, currentOf(t, s, "hero", "Armor"))
	tagsAfter, err := s.Tags("hero")
	require.NoError(t, err)
	assert.Equal(t, tagsBefore, tagsAfter)

	require.NoError(t, s.RemoveEffect("hero", h))
	assert.ErrorIs(t, s.RemoveEffect("hero", h), effect.ErrUnknownHandle)
	assert.Equal(t, 50.0, currentOf(t, s, "hero", "Armor"))
}

func TestErrors(t *testing.T) {
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{ID: "Attack"})
	s := newScheduler(t, defs)

	assert.ErrorIs(t, s.AddActor("hero", nil), ErrDuplicateActor)
	assert.ErrorIs(t, s.RequestActivation("ghost", "Attack"), ErrUnknownActor)
	assert.ErrorIs(t, s.RequestActivation("hero", "Attack"), ErrAbilityNotGranted)
	assert.ErrorIs(t, s.GrantAbility("hero", "Nope"), ErrUnknownAbility)
	_, err := s.ApplyEffect("hero", "Nope", "", 1)
	assert.ErrorIs(t, err, ErrUnknownEffect)
	_, err = s.CurrentValue("hero", "Stamina")
	assert.ErrorIs(t, err, attribute.ErrUnknownAttribute)

	assert.True(t, s.RemoveActor("hero"))
	assert.False(t, s.RemoveActor("hero"))
	assert.Empty(t, s.Actors())
}

func TestTickAll_ManyActors(t *testing.T) {
	defs := newTestDefs()
	defs.addEffect(&effect.Definition{
		ID:        "Bleed",
		Duration:  effect.Infinite,
		Period:    time.Second,
		Modifiers: []effect.ModifierDef{{Attribute: "Health", Op: attribute.OpAdd, Magnitude: -1}},
	})
	s := New(defs, WithTickWorkers(4))

	const n = 32
	for i := range n {
		id := fmt.Sprintf("npc-%02d", i)
		require.NoError(t, s.AddActor(id, characterAttrs()))
		_, err := s.ApplyEffect(id, "Bleed", "", 1)
		require.NoError(t, err)
	}

	for range 3 {
		require.NoError(t, s.TickAll(context.Background(), time.Second))
	}

	ids := s.Actors()
	require.Len(t, ids, n)
	for _, id := range ids {
		assert.Equal(t, 97.0, currentOf(t, s, id, "Health"), id)
	}
}

func TestTickAll_CancelledContext(t *testing.T) {
	s := newScheduler(t, newTestDefs())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.TickAll(ctx, time.Second), context.Canceled)
}

func TestSnapshotRestore(t *testing.T) {
	reg := tag.NewRegistry()
	defs := newTestDefs()
	defs.addAbility(&ability.Definition{
		ID:          "Glide",
		GrantedTags: tag.Set{reg.MustIntern("Movement.Gliding")},
		GrantedEffects: []*effect.Definition{{
			ID:        "GlideSlow",
			Duration:  effect.Infinite,
			Modifiers: []effect.ModifierDef{{Attribute: "MaxWalkSpeed", Op: attribute.OpMultiply, Magnitude: 0.5}},
		}},
	})
	defs.addAbility(&ability.Definition{ID: "Attack", Cooldown: 5 * time.Second})
	defs.addEffect(&effect.Definition{
		ID:        "Regen",
		Duration:  effect.HasDuration,
		Length:    10 * time.Second,
		Period:    2 * time.Second,
		Modifiers: []effect.ModifierDef{{Attribute: "Mana", Op: attribute.OpAdd, Magnitude: 1}},
	})

	s := newScheduler(t, defs)
	require.NoError(t, s.GrantAbility("hero", "Glide"))
	require.NoError(t, s.GrantAbility("hero", "Attack"))
	require.NoError(t, s.RequestActivation("hero", "Glide"))
	require.NoError(t, s.RequestActivation("hero", "Attack"))
	require.NoError(t, s.End("hero", "Attack"))
	_, err := s.ApplyEffect("hero", "Regen", "hero", 2)
	require.NoError(t, err)
	require.NoError(t, s.Tick("hero", 3*time.Second))

	snap, err := s.Snapshot("hero")
	require.NoError(t, err)
	require.Len(t, snap.Effects, 1, "ability-owned effects are not listed")
	assert.Equal(t, effect.State{
		DefinitionID:  "Regen",
		SourceActorID: "hero",
		Level:         2,
		Remaining:     7 * time.Second,
		PeriodElapsed: time.Second,
	}, snap.Effects[0])
	assert.Equal(t, 52.0, snap.Attributes["Mana"])

	restored := New(defs)
	require.NoError(t, restored.AddActor("hero", characterAttrs()))
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, ability.Active, stateOf(t, restored, "hero", "Glide"))
	assert.Equal(t, ability.CoolingDown, stateOf(t, restored, "hero", "Attack"))
	assert.Equal(t, 300.0, currentOf(t, restored, "hero", "MaxWalkSpeed"))
	assert.Equal(t, 52.0, currentOf(t, restored, "hero", "Mana"))
	has, err := restored.HasTag("hero", reg.MustIntern("Movement"))
	require.NoError(t, err)
	assert.True(t, has)

	again, err := restored.Snapshot("hero")
	require.NoError(t, err)
	assert.Equal(t, snap, again)

	require.NoError(t, restored.Tick("hero", 2*time.Second))
	assert.Equal(t, 54.0, currentOf(t, restored, "hero", "Mana"), "period progress survives the round trip")
	assert.Equal(t, ability.Inactive, stateOf(t, restored, "hero", "Attack"), "remaining cooldown survives the round trip")
}

func TestRestore_UnknownDefinitions(t *testing.T) {
	s := newScheduler(t, newTestDefs())
	err := s.Restore(ActorSnapshot{
		ActorID:    "hero",
		Attributes: map[string]float64{"Mana": 10, "Removed": 1},
		Effects:    []effect.State{{DefinitionID: "Gone", Remaining: time.Second}},
		Abilities:  []ability.Snapshot{{AbilityID: "Gone"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownEffect)
	assert.ErrorIs(t, err, ErrUnknownAbility)
	assert.Equal(t, 10.0, currentOf(t, s, "hero", "Mana"), "known parts are still restored")
}
