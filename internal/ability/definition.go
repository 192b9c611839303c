package ability

import (
	"errors"
	"fmt"
	"time"

	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

// ErrInvalidDefinition is returned for malformed ability definitions.
var ErrInvalidDefinition = errors.New("invalid ability definition")

// Cost is an attribute debited when the ability commits.
type Cost struct {
	Attribute string
	Amount    float64
}

// Definition is the static description of an ability.
// Shared across all actors; do not modify after load.
type Definition struct {
	ID string

	// Tags identify the ability itself; other abilities cancel it through
	// their CancelTags.
	Tags tag.Set

	Costs        []Cost
	Cooldown     time.Duration
	CooldownTags tag.Set // granted by the cooldown effect

	RequiredTags tag.Set // all must be present to activate
	BlockedTags  tag.Set // none may be present to activate
	CancelTags   tag.Set // active abilities tagged with these are cancelled

	// Granted while Active and released on every exit.
	GrantedTags    tag.Set
	GrantedEffects []*effect.Definition

	CastTime       time.Duration // time spent Activating before commit
	ActiveDuration time.Duration // zero means active until ended explicitly
}

// Validate rejects definitions that could never be instantiated.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("empty id"))
	}
	if d.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("negative cooldown %s", d.Cooldown))
	}
	if d.CastTime < 0 {
		errs = append(errs, fmt.Errorf("negative cast time %s", d.CastTime))
	}
	if d.ActiveDuration < 0 {
		errs = append(errs, fmt.Errorf("negative active duration %s", d.ActiveDuration))
	}
	for _, c := range d.Costs {
		if c.Attribute == "" {
			errs = append(errs, errors.New("cost with empty attribute"))
		}
		if c.Amount < 0 {
			errs = append(errs, fmt.Errorf("negative cost %s=%g", c.Attribute, c.Amount))
		}
	}
	for _, ed := range d.GrantedEffects {
		if ed == nil {
			errs = append(errs, errors.New("nil granted effect"))
			continue
		}
		if ed.Duration == effect.Instant {
			errs = append(errs, fmt.Errorf("granted effect %s is instant", ed.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidDefinition, d.ID, errors.Join(errs...))
	}
	return nil
}

// cooldownEffect builds the effect that marks the ability as cooling down.
func (d *Definition) cooldownEffect() *effect.Definition {
	return &effect.Definition{
		ID:          "Cooldown." + d.ID,
		Duration:    effect.HasDuration,
		Length:      d.Cooldown,
		Stacking:    effect.StackRefresh,
		GrantedTags: d.CooldownTags,
	}
}
