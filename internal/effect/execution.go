package effect

import (
	"errors"

	"github.com/udisondev/projectlux/internal/attribute"
)

// ErrUnknownExecution is returned when a definition names an unregistered execution.
var ErrUnknownExecution = errors.New("unknown execution")

// ExecutionContext is the input of an Execution.
// Target is read-only for executions; outputs are applied by the Manager.
type ExecutionContext struct {
	Source Source
	Target *attribute.Set
	Level  float64
}

// Execution computes attribute changes from source and target state.
// Outputs naming attributes the target lacks are dropped.
type Execution func(ctx ExecutionContext) []ModifierDef

// executionRegistry maps execution name → implementation.
// Populated by init() functions; read-only afterwards.
var executionRegistry = map[string]Execution{}

// RegisterExecution registers an execution by name.
// Called from init() in each execution implementation file.
func RegisterExecution(name string, exec Execution) {
	executionRegistry[name] = exec
}

// LookupExecution returns the execution registered under name.
func LookupExecution(name string) (Execution, bool) {
	exec, ok := executionRegistry[name]
	return exec, ok
}

func init() {
	RegisterExecution("AttackDamage", AttackDamage)
}

// sourceValue reads a captured source attribute, falling back to def.
func sourceValue(src Source, name string, def float64) float64 {
	if v, ok := src.Attributes[name]; ok {
		return v
	}
	return def
}

// targetValue reads a target attribute, falling back to def.
func targetValue(attrs *attribute.Set, name string, def float64) float64 {
	if attrs == nil {
		return def
	}
	v, err := attrs.CurrentValue(name)
	if err != nil {
		return def
	}
	return v
}
