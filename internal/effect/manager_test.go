package effect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/tag"
)

// testTarget is a minimal Target for tests.
type testTarget struct {
	attrs *attribute.Set
	tags  *tag.Container
}

func (t *testTarget) Attributes() *attribute.Set { return t.attrs }
func (t *testTarget) Tags() *tag.Container       { return t.tags }

func newTestTarget(t *testing.T) *testTarget {
	t.Helper()
	attrs, err := attribute.NewSet(
		attribute.Definition{Name: "Health", Base: 100, Min: attribute.Bound(0), MaxAttr: "MaxHealth"},
		attribute.Definition{Name: "MaxHealth", Base: 100, Min: attribute.Bound(1)},
		attribute.Definition{Name: "Mana", Base: 50, Min: attribute.Bound(0)},
		attribute.Definition{Name: "Armor", Base: 10, Min: attribute.Bound(0)},
		attribute.Definition{Name: "ReceivedDamage", Meta: true, DrainInto: "Health"},
	)
	require.NoError(t, err)
	return &testTarget{attrs: attrs, tags: tag.NewContainer()}
}

func value(t *testing.T, target *testTarget, name string) float64 {
	t.Helper()
	v, err := target.attrs.CurrentValue(name)
	require.NoError(t, err)
	return v
}

func armorBuff(reg *tag.Registry, stacking StackingPolicy) *Definition {
	return &Definition{
		ID:          "ArmorBuff",
		Duration:    HasDuration,
		Length:      10 * time.Second,
		Stacking:    stacking,
		Modifiers:   []ModifierDef{{Attribute: "Armor", Op: attribute.OpAdd, Magnitude: 5}},
		GrantedTags: tag.Set{reg.MustIntern("Buff.Armor")},
	}
}

func TestApply_DenyTwice(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := armorBuff(reg, StackDeny)

	h, err := m.Apply(def, Source{ActorID: "caster"})
	require.NoError(t, err)
	require.NotZero(t, h)

	armorBefore := value(t, target, "Armor")
	tagsBefore := target.tags.Tags()
	grantsBefore := target.tags.GrantCount(reg.MustIntern("Buff.Armor"))

	_, err = m.Apply(def, Source{ActorID: "caster"})
	require.ErrorIs(t, err, ErrStackingDenied)

	assert.Equal(t, armorBefore, value(t, target, "Armor"))
	assert.Equal(t, tagsBefore, target.tags.Tags())
	assert.Equal(t, grantsBefore, target.tags.GrantCount(reg.MustIntern("Buff.Armor")))
	assert.Equal(t, 1, m.Count())
}

func TestApply_Refresh(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := armorBuff(reg, StackRefresh)

	h1, err := m.Apply(def, Source{})
	require.NoError(t, err)
	m.Tick(6 * time.Second)

	h2, err := m.Apply(def, Source{Level: 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	ae, ok := m.Get(h1)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, ae.Remaining)
	assert.Equal(t, 20.0, value(t, target, "Armor"), "refresh adopts the new level")
	assert.Equal(t, 1, target.attrs.ModifierCount("Armor"))
	assert.Equal(t, 1, target.tags.GrantCount(reg.MustIntern("Buff.Armor")))
}

func TestApply_NoneModes(t *testing.T) {
	tests := []struct {
		name          string
		mode          NoneMode
		wantRemaining time.Duration
	}{
		{name: "refresh duration", mode: NoneRefreshDuration, wantRemaining: 10 * time.Second},
		{name: "ignore", mode: NoneIgnore, wantRemaining: 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := tag.NewRegistry()
			target := newTestTarget(t)
			m := NewManager(target, WithNoneMode(tt.mode))
			def := armorBuff(reg, StackNone)

			h1, err := m.Apply(def, Source{})
			require.NoError(t, err)
			m.Tick(6 * time.Second)

			h2, err := m.Apply(def, Source{Level: 3})
			require.NoError(t, err)
			assert.Equal(t, h1, h2)

			ae, _ := m.Get(h1)
			assert.Equal(t, tt.wantRemaining, ae.Remaining)
			assert.Equal(t, 15.0, value(t, target, "Armor"), "magnitude is never reset")
			assert.Equal(t, 1, m.Count())
		})
	}
}

func TestApply_AggregateWithLimit(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := armorBuff(reg, StackAggregate)
	def.MaxStacks = 2

	var removed []RemoveReason
	m.OnRemoved(func(_ *ActiveEffect, reason RemoveReason) { removed = append(removed, reason) })

	h1, err := m.Apply(def, Source{})
	require.NoError(t, err)
	h2, err := m.Apply(def, Source{})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, 20.0, value(t, target, "Armor"))
	assert.Equal(t, 2, m.StackCount("ArmorBuff"))

	h3, err := m.Apply(def, Source{})
	require.NoError(t, err)
	assert.False(t, m.IsActive(h1), "oldest stack evicted")
	assert.True(t, m.IsActive(h2))
	assert.True(t, m.IsActive(h3))
	assert.Equal(t, 20.0, value(t, target, "Armor"))
	assert.Equal(t, []RemoveReason{RemovedStackLimit}, removed)
	assert.True(t, target.tags.Has(reg.MustIntern("Buff.Armor")))
}

func TestApply_Instant(t *testing.T) {
	target := newTestTarget(t)
	m := NewManager(target)
	def := &Definition{
		ID:        "ManaBurn",
		Duration:  Instant,
		Modifiers: []ModifierDef{{Attribute: "Mana", Op: attribute.OpAdd, Magnitude: -20}},
	}

	h, err := m.Apply(def, Source{})
	require.NoError(t, err)
	assert.Zero(t, h)
	assert.Equal(t, 0, m.Count(), "instant effects never stay active")

	base, err := target.attrs.Base("Mana")
	require.NoError(t, err)
	assert.Equal(t, 30.0, base)
	assert.Equal(t, 0, target.attrs.ModifierCount("Mana"))
}

func TestApply_UnknownAttributeIsAtomic(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := &Definition{
		ID:       "Broken",
		Duration: Infinite,
		Modifiers: []ModifierDef{
			{Attribute: "Armor", Op: attribute.OpAdd, Magnitude: 5},
			{Attribute: "Stamina", Op: attribute.OpAdd, Magnitude: 5},
		},
		GrantedTags: tag.Set{reg.MustIntern("State.Broken")},
	}

	_, err := m.Apply(def, Source{})
	require.ErrorIs(t, err, attribute.ErrUnknownAttribute)
	assert.Equal(t, 10.0, value(t, target, "Armor"))
	assert.Equal(t, 0, target.tags.Len())
	assert.Equal(t, 0, m.Count())
}

func TestPeriodic_FirstPulseAtPeriod(t *testing.T) {
	target := newTestTarget(t)
	m := NewManager(target)
	def := &Definition{
		ID:        "Poison",
		Duration:  Infinite,
		Period:    2 * time.Second,
		Modifiers: []ModifierDef{{Attribute: "Health", Op: attribute.OpAdd, Magnitude: -10}},
	}

	h, err := m.Apply(def, Source{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, value(t, target, "Health"), "no pulse at t=0")

	m.Tick(time.Second)
	assert.Equal(t, 100.0, value(t, target, "Health"), "no pulse at t=1")

	m.Tick(time.Second)
	assert.Equal(t, 90.0, value(t, target, "Health"), "pulse at t=2")

	m.Tick(time.Second)
	assert.Equal(t, 90.0, value(t, target, "Health"), "no pulse at t=3")

	ae, _ := m.Get(h)
	assert.Equal(t, 1, ae.Pulses)
	assert.Equal(t, 0, target.attrs.ModifierCount("Health"), "periodic effects do not hold modifiers")
}

func TestPeriodic_LargeTickAndExpiryBoundary(t *testing.T) {
	target := newTestTarget(t)
	m := NewManager(target)
	def := &Definition{
		ID:        "Regen",
		Duration:  HasDuration,
		Length:    3 * time.Second,
		Period:    time.Second,
		Modifiers: []ModifierDef{{Attribute: "Mana", Op: attribute.OpAdd, Magnitude: 5}},
	}

	_, err := m.Apply(def, Source{})
	require.NoError(t, err)

	m.Tick(10 * time.Second)
	assert.Equal(t, 65.0, value(t, target, "Mana"), "three pulses within the lifetime, the last one at expiry")
	assert.Equal(t, 0, m.Count())
}

func TestRemove_Twice(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)

	h, err := m.Apply(armorBuff(reg, StackNone), Source{})
	require.NoError(t, err)
	assert.Equal(t, 15.0, value(t, target, "Armor"))

	require.NoError(t, m.Remove(h))
	assert.Equal(t, 10.0, value(t, target, "Armor"))
	assert.False(t, target.tags.Has(reg.MustIntern("Buff")))

	err = m.Remove(h)
	require.ErrorIs(t, err, ErrUnknownHandle)
	assert.Equal(t, 10.0, value(t, target, "Armor"), "never reversed twice")
}

func TestRemove_ListenersSeeWholeEffect(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)

	var armorOnAdd, armorOnRemove float64
	target.tags.Subscribe(func(_ *tag.Container, ch tag.Change) {
		v, _ := target.attrs.CurrentValue("Armor")
		if ch.Added {
			armorOnAdd = v
		} else {
			armorOnRemove = v
		}
	})

	h, err := m.Apply(armorBuff(reg, StackNone), Source{})
	require.NoError(t, err)
	require.NoError(t, m.Remove(h))

	assert.Equal(t, 15.0, armorOnAdd, "tags are granted after modifiers")
	assert.Equal(t, 10.0, armorOnRemove, "tags are released after modifiers")
}

func TestTick_Expiry(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)

	var expired []Handle
	m.OnRemoved(func(ae *ActiveEffect, reason RemoveReason) {
		if reason == RemovedExpired {
			expired = append(expired, ae.Handle)
		}
	})

	h, err := m.Apply(armorBuff(reg, StackNone), Source{})
	require.NoError(t, err)

	m.Tick(9 * time.Second)
	assert.True(t, m.IsActive(h))

	m.Tick(time.Second)
	assert.False(t, m.IsActive(h), "removed within the tick that expired it")
	assert.Equal(t, []Handle{h}, expired)
	assert.Equal(t, 10.0, value(t, target, "Armor"))
}

func TestRemoveWithGrantedTag(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)

	_, err := m.Apply(armorBuff(reg, StackNone), Source{})
	require.NoError(t, err)
	_, err = m.Apply(&Definition{
		ID:          "Stun",
		Duration:    HasDuration,
		Length:      time.Second,
		GrantedTags: tag.Set{reg.MustIntern("State.Stunned")},
	}, Source{})
	require.NoError(t, err)

	assert.Equal(t, 1, m.RemoveWithGrantedTag(reg.MustIntern("State")))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, m.RemoveByDefinition("ArmorBuff"))
	assert.Equal(t, 0, target.tags.Len())
}

func TestStatesRestore(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := armorBuff(reg, StackRefresh)

	_, err := m.Apply(def, Source{ActorID: "caster", Level: 2})
	require.NoError(t, err)
	m.Tick(4 * time.Second)

	states := m.States()
	require.Len(t, states, 1)
	assert.Equal(t, State{DefinitionID: "ArmorBuff", SourceActorID: "caster", Level: 2, Remaining: 6 * time.Second}, states[0])

	restoredTarget := newTestTarget(t)
	restored := NewManager(restoredTarget)
	h, err := restored.Restore(def, states[0])
	require.NoError(t, err)

	ae, ok := restored.Get(h)
	require.True(t, ok)
	assert.Equal(t, 6*time.Second, ae.Remaining)
	assert.Equal(t, 20.0, value(t, restoredTarget, "Armor"))
	assert.True(t, restoredTarget.tags.Has(reg.MustIntern("Buff.Armor")))
}

func TestAcquireRelease_SharedGrants(t *testing.T) {
	reg := tag.NewRegistry()

	tests := []struct {
		name        string
		external    bool // applied from outside before the grants
		grants      int
		releases    int
		wantPresent bool
	}{
		{name: "single grant released", grants: 1, releases: 1, wantPresent: false},
		{name: "shared grant, one released", grants: 2, releases: 1, wantPresent: true},
		{name: "shared grant, all released", grants: 2, releases: 2, wantPresent: false},
		{name: "external instance outlives grants", external: true, grants: 2, releases: 2, wantPresent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newTestTarget(t)
			m := NewManager(target)
			def := armorBuff(reg, StackNone)

			var external Handle
			if tt.external {
				h, err := m.Apply(def, Source{})
				require.NoError(t, err)
				external = h
			}

			var handles []Handle
			for range tt.grants {
				h, err := m.Acquire(def, Source{})
				require.NoError(t, err)
				handles = append(handles, h)
			}
			for _, h := range handles[1:] {
				assert.Equal(t, handles[0], h, "stacking shares the instance")
			}
			if tt.external {
				assert.Equal(t, external, handles[0])
			}

			for _, h := range handles[:tt.releases] {
				_, err := m.Release(h)
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantPresent, m.IsActive(handles[0]))
			assert.Equal(t, tt.wantPresent, target.tags.Has(reg.MustIntern("Buff.Armor")))
			if tt.wantPresent {
				assert.Equal(t, 15.0, value(t, target, "Armor"))
			} else {
				assert.Equal(t, 10.0, value(t, target, "Armor"))
			}
		})
	}
}

func TestApply_MarksHeldInstanceExternal(t *testing.T) {
	reg := tag.NewRegistry()
	target := newTestTarget(t)
	m := NewManager(target)
	def := armorBuff(reg, StackRefresh)

	h, err := m.Acquire(def, Source{})
	require.NoError(t, err)
	h2, err := m.Apply(def, Source{})
	require.NoError(t, err)
	require.Equal(t, h, h2)

	removed, err := m.Release(h)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.True(t, m.IsActive(h))

	require.NoError(t, m.Remove(h))
	_, err = m.Release(h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestAcquire_RejectsInstant(t *testing.T) {
	m := NewManager(newTestTarget(t))
	_, err := m.Acquire(&Definition{ID: "Hit", Duration: Instant}, Source{})
	assert.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestApply_LevelScaling(t *testing.T) {
	tests := []struct {
		name      string
		op        attribute.Op
		magnitude float64
		want      float64
	}{
		{name: "add scales linearly", op: attribute.OpAdd, magnitude: 5, want: 20},
		{name: "multiply scales its delta", op: attribute.OpMultiply, magnitude: 1.5, want: 20},
		{name: "override ignores level", op: attribute.OpOverride, magnitude: 30, want: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newTestTarget(t)
			m := NewManager(target)
			def := &Definition{
				ID:        "Scaled",
				Duration:  Infinite,
				Modifiers: []ModifierDef{{Attribute: "Armor", Op: tt.op, Magnitude: tt.magnitude}},
			}
			_, err := m.Apply(def, Source{Level: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.want, value(t, target, "Armor"))
		})
	}
}
