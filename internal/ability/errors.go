package ability

import (
	"errors"
	"fmt"
)

var (
	// ErrActivationFailed matches every *ActivationError via errors.Is.
	ErrActivationFailed = errors.New("activation failed")

	// ErrAlreadyActive is returned when activating an instance that is not Inactive.
	ErrAlreadyActive = errors.New("ability already active")

	// ErrInvalidTransition is returned when a transition is requested from the wrong state.
	ErrInvalidTransition = errors.New("invalid ability transition")
)

// Reason explains why an activation guard failed.
type Reason int8

const (
	ReasonCostNotMet Reason = iota
	ReasonOnCooldown
	ReasonTagBlocked
	ReasonTagMissing
)

func (r Reason) String() string {
	switch r {
	case ReasonCostNotMet:
		return "cost not met"
	case ReasonOnCooldown:
		return "on cooldown"
	case ReasonTagBlocked:
		return "tag blocked"
	case ReasonTagMissing:
		return "tag missing"
	default:
		return fmt.Sprintf("reason(%d)", int8(r))
	}
}

// ActivationError reports a failed activation guard.
type ActivationError struct {
	Ability string
	Reason  Reason
	Detail  string
}

func (e *ActivationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("activating %s: %s", e.Ability, e.Reason)
	}
	return fmt.Sprintf("activating %s: %s (%s)", e.Ability, e.Reason, e.Detail)
}

// Is lets errors.Is(err, ErrActivationFailed) match.
func (e *ActivationError) Is(target error) bool {
	return target == ErrActivationFailed
}

// FailureReason extracts the guard reason from err.
func FailureReason(err error) (Reason, bool) {
	var ae *ActivationError
	if errors.As(err, &ae) {
		return ae.Reason, true
	}
	return 0, false
}
