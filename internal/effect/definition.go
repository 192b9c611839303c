package effect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/tag"
)

// ErrInvalidDefinition is returned for malformed effect definitions.
var ErrInvalidDefinition = errors.New("invalid effect definition")

// DurationPolicy defines the lifetime of an effect.
type DurationPolicy int8

const (
	Instant     DurationPolicy = iota // Executes once, never enters the active set
	HasDuration                       // Active for Definition.Length
	Infinite                          // Active until removed
)

func (d DurationPolicy) String() string {
	switch d {
	case Instant:
		return "instant"
	case HasDuration:
		return "duration"
	case Infinite:
		return "infinite"
	default:
		return fmt.Sprintf("duration(%d)", int8(d))
	}
}

// ParseDurationPolicy parses "instant", "duration" or "infinite".
func ParseDurationPolicy(s string) (DurationPolicy, error) {
	switch strings.ToLower(s) {
	case "instant":
		return Instant, nil
	case "duration", "has_duration":
		return HasDuration, nil
	case "infinite":
		return Infinite, nil
	default:
		return 0, fmt.Errorf("unknown duration policy %q", s)
	}
}

// StackingPolicy defines what happens when a definition is applied to a
// target that already holds an instance of it.
type StackingPolicy int8

const (
	StackNone      StackingPolicy = iota // Single instance, see NoneMode
	StackAggregate                       // Independent instances, up to MaxStacks
	StackRefresh                         // Reset duration and adopt the new level
	StackDeny                            // Reject the second application
)

func (p StackingPolicy) String() string {
	switch p {
	case StackNone:
		return "none"
	case StackAggregate:
		return "aggregate"
	case StackRefresh:
		return "refresh"
	case StackDeny:
		return "deny"
	default:
		return fmt.Sprintf("stacking(%d)", int8(p))
	}
}

// ParseStackingPolicy parses "none", "aggregate", "refresh" or "deny". Empty means none.
func ParseStackingPolicy(s string) (StackingPolicy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return StackNone, nil
	case "aggregate":
		return StackAggregate, nil
	case "refresh":
		return StackRefresh, nil
	case "deny":
		return StackDeny, nil
	default:
		return 0, fmt.Errorf("unknown stacking policy %q", s)
	}
}

// NoneMode configures StackNone re-application.
type NoneMode int8

const (
	NoneRefreshDuration NoneMode = iota // Reset remaining duration, keep the first level
	NoneIgnore                          // Leave the existing instance untouched
)

// ParseNoneMode parses "refresh" or "ignore". Empty means refresh.
func ParseNoneMode(s string) (NoneMode, error) {
	switch strings.ToLower(s) {
	case "", "refresh":
		return NoneRefreshDuration, nil
	case "ignore":
		return NoneIgnore, nil
	default:
		return 0, fmt.Errorf("unknown none-stacking mode %q", s)
	}
}

// ModifierDef is one attribute change carried by an effect definition.
type ModifierDef struct {
	Attribute string
	Op        attribute.Op
	Magnitude float64
}

// Definition is the static, externally authored description of an effect.
// Shared across all targets; do not modify after load.
type Definition struct {
	ID          string
	Duration    DurationPolicy
	Length      time.Duration // HasDuration only
	Period      time.Duration // zero for non-periodic effects
	Stacking    StackingPolicy
	MaxStacks   int // StackAggregate only, zero means unlimited
	Modifiers   []ModifierDef
	GrantedTags tag.Set
	Execution   string // registered Execution name, optional
}

// IsPeriodic reports whether the modifiers execute every Period.
func (d *Definition) IsPeriodic() bool {
	return d.Period > 0
}

// Validate checks the definition for internal consistency.
// Attribute names are checked against a schema by the data loader.
func (d *Definition) Validate() error {
	var errs []error
	if d.ID == "" {
		errs = append(errs, errors.New("empty id"))
	}
	if d.Length < 0 {
		errs = append(errs, fmt.Errorf("negative duration %s", d.Length))
	}
	if d.Period < 0 {
		errs = append(errs, fmt.Errorf("negative period %s", d.Period))
	}
	switch d.Duration {
	case Instant:
		if d.Period > 0 {
			errs = append(errs, errors.New("instant effect cannot be periodic"))
		}
		if len(d.GrantedTags) > 0 {
			errs = append(errs, errors.New("instant effect cannot grant tags"))
		}
	case HasDuration:
		if d.Length == 0 {
			errs = append(errs, errors.New("duration effect needs a positive duration"))
		}
		if d.Period > d.Length {
			errs = append(errs, fmt.Errorf("period %s longer than duration %s", d.Period, d.Length))
		}
	case Infinite:
	default:
		errs = append(errs, fmt.Errorf("unknown duration policy %d", d.Duration))
	}
	if d.MaxStacks < 0 {
		errs = append(errs, fmt.Errorf("negative max stacks %d", d.MaxStacks))
	}
	if d.Execution != "" {
		if _, ok := LookupExecution(d.Execution); !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownExecution, d.Execution))
		}
	}
	for i, m := range d.Modifiers {
		if m.Attribute == "" {
			errs = append(errs, fmt.Errorf("modifier %d: empty attribute", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidDefinition, d.ID, errors.Join(errs...))
	}
	return nil
}
