package attribute

import (
	"fmt"
	"strings"
)

// Op defines how a modifier combines with the base value.
type Op int8

const (
	OpAdd      Op = iota // Additive bonus (e.g. +100 Armor)
	OpMultiply           // Multiplicative bonus (e.g. ×1.2 MaxWalkSpeed)
	OpOverride           // Replaces the computed value outright
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpMultiply:
		return "multiply"
	case OpOverride:
		return "override"
	default:
		return fmt.Sprintf("op(%d)", int8(o))
	}
}

// ParseOp parses "add", "multiply"/"mul" or "override"/"set" (case-insensitive).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(s) {
	case "add":
		return OpAdd, nil
	case "multiply", "mul":
		return OpMultiply, nil
	case "override", "set":
		return OpOverride, nil
	default:
		return 0, fmt.Errorf("unknown modifier op %q", s)
	}
}

// Modifier is a single numeric change applied to an attribute.
// Source identifies the owning effect instance, for logging and debugging.
type Modifier struct {
	Op        Op
	Magnitude float64
	Source    string
}

// ModifierHandle identifies an installed modifier. Zero is never issued.
type ModifierHandle uint64

type modEntry struct {
	handle ModifierHandle
	mod    Modifier
}

// aggregate computes (base + ΣAdd) × ΠMultiply, or the last Override magnitude.
func aggregate(base float64, mods []modEntry) float64 {
	add := 0.0
	mul := 1.0
	override, hasOverride := 0.0, false

	for _, e := range mods {
		switch e.mod.Op {
		case OpAdd:
			add += e.mod.Magnitude
		case OpMultiply:
			mul *= e.mod.Magnitude
		case OpOverride:
			override, hasOverride = e.mod.Magnitude, true
		}
	}

	if hasOverride {
		return override
	}
	return (base + add) * mul
}

// applyOp executes op against v once. Used for instant executions on the base value.
func applyOp(v float64, op Op, magnitude float64) float64 {
	switch op {
	case OpAdd:
		return v + magnitude
	case OpMultiply:
		return v * magnitude
	case OpOverride:
		return magnitude
	default:
		return v
	}
}
