package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// Evaluator runs one rule type against a snapshot. Implementations must be
// pure functions of their inputs: no hidden state, no snapshot mutation, so
// the engine can fan them out in parallel and rerun them for identical
// results. Long row scans honor ctx at least once per cancelCheckInterval
// rows.
type Evaluator interface {
	// Type names the rule type this evaluator owns.
	Type() RuleType
	// Validate checks a rule's raw conditions without running anything.
	// The engine rejects rules whose conditions fail here before dispatch.
	Validate(conditions json.RawMessage) error
	// Evaluate emits the rule's anomalies in snapshot row order.
	Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error)
}

// Registry maps rule types onto their evaluators. Adding a rule type is a
// registry insert, not a hierarchy change.
type Registry struct {
	evaluators map[RuleType]Evaluator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[RuleType]Evaluator)}
}

// NewDefaultRegistry installs every built-in evaluator.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, e := range []Evaluator{
		NewStagnantPallets(),
		NewUncoordinatedLots(),
		NewOvercapacity(),
		NewInvalidLocation(),
		NewLocationStagnant(),
		NewTemperatureZone(),
		NewDataIntegrity(),
		NewMissingLocation(),
		NewProductIncompatibility(),
	} {
		// Built-ins never collide on type.
		_ = r.Register(e)
	}
	return r
}

// Register installs an evaluator, rejecting duplicate types.
func (r *Registry) Register(e Evaluator) error {
	if e == nil {
		return fmt.Errorf("rules: nil evaluator")
	}
	if _, dup := r.evaluators[e.Type()]; dup {
		return fmt.Errorf("rules: evaluator for %s already registered", e.Type())
	}
	r.evaluators[e.Type()] = e
	return nil
}

// Lookup returns the evaluator owning a rule type.
func (r *Registry) Lookup(t RuleType) (Evaluator, bool) {
	e, ok := r.evaluators[t]
	return e, ok
}

// Types lists the registered rule types in lexical order.
func (r *Registry) Types() []RuleType {
	types := make([]RuleType, 0, len(r.evaluators))
	for t := range r.evaluators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// cancelCheckInterval is how often row loops poll for cancellation.
const cancelCheckInterval = 10000

// checkCancel polls ctx once per cancelCheckInterval rows so large snapshots
// stay responsive to timeouts without a select on every row.
func checkCancel(ctx context.Context, row int) error {
	if row%cancelCheckInterval != 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// decodeConditions unmarshals raw rule conditions. Unknown keys are ignored;
// absent conditions leave the target at its zero value.
func decodeConditions(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("rules: decode conditions: %w", err)
	}
	return nil
}
