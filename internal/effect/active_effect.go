package effect

import (
	"time"

	"github.com/udisondev/projectlux/internal/attribute"
)

// Handle identifies an active effect instance on one target. Zero is never
// issued for an active instance; instant applications return zero.
type Handle uint64

// Source describes who applied an effect.
// Attributes are the source's current values captured at application time,
// read by executions.
type Source struct {
	ActorID    string
	Level      float64
	Attributes map[string]float64
}

func (s Source) level() float64 {
	if s.Level == 0 {
		return 1
	}
	return s.Level
}

// ActiveEffect tracks a running effect on a target.
// Created by Manager.Apply and owned by the Manager.
type ActiveEffect struct {
	Handle        Handle
	Def           *Definition
	SourceActorID string
	Level         float64
	Remaining     time.Duration // meaningless for Infinite
	PeriodElapsed time.Duration // progress towards the next pulse
	Pulses        int

	modifiers   []attribute.ModifierHandle
	sourceAttrs map[string]float64

	grants   int  // ability grants taken through Acquire
	external bool // applied through Apply or Restore
}

// Grants returns the number of ability grants held on the instance.
func (ae *ActiveEffect) Grants() int { return ae.grants }

// External reports whether the instance was applied from outside any ability.
func (ae *ActiveEffect) External() bool { return ae.external }

// IsExpired returns true if a finite effect has run out.
func (ae *ActiveEffect) IsExpired() bool {
	return ae.Def.Duration == HasDuration && ae.Remaining <= 0
}

// advance moves the timers by dt and returns the number of period
// boundaries crossed. Pulses only count time inside the effect lifetime,
// so a boundary that coincides with expiry still fires.
func (ae *ActiveEffect) advance(dt time.Duration) int {
	lived := dt
	if ae.Def.Duration == HasDuration {
		lived = min(dt, ae.Remaining)
		ae.Remaining -= dt
	}

	if !ae.Def.IsPeriodic() {
		return 0
	}
	ae.PeriodElapsed += lived
	n := 0
	for ae.PeriodElapsed >= ae.Def.Period {
		ae.PeriodElapsed -= ae.Def.Period
		n++
	}
	return n
}

// State is the persisted form of an active effect.
type State struct {
	DefinitionID  string
	SourceActorID string
	Level         float64
	Remaining     time.Duration
	PeriodElapsed time.Duration
}

func (ae *ActiveEffect) state() State {
	return State{
		DefinitionID:  ae.Def.ID,
		SourceActorID: ae.SourceActorID,
		Level:         ae.Level,
		Remaining:     ae.Remaining,
		PeriodElapsed: ae.PeriodElapsed,
	}
}
