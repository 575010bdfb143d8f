package engine

import (
	"fmt"
	"time"
)

// UnparseableRuleError marks a rule whose conditions or parameters failed to
// compile. The rule is recorded in the report and never dispatched.
type UnparseableRuleError struct {
	RuleID string
	Reason string
}

func (e *UnparseableRuleError) Error() string {
	return fmt.Sprintf("rule %s unparseable: %s", e.RuleID, e.Reason)
}

// EvaluatorFailureError wraps a runtime failure of one evaluator. Failures
// stay scoped to their rule; sibling rules keep their results.
type EvaluatorFailureError struct {
	RuleID string
	Err    error
}

func (e *EvaluatorFailureError) Error() string {
	return fmt.Sprintf("rule %s evaluator failed: %v", e.RuleID, e.Err)
}

func (e *EvaluatorFailureError) Unwrap() error { return e.Err }

// EvaluatorTimeoutError marks a rule abandoned after exceeding the per-rule
// deadline.
type EvaluatorTimeoutError struct {
	RuleID  string
	Timeout time.Duration
}

func (e *EvaluatorTimeoutError) Error() string {
	return fmt.Sprintf("rule %s timed out after %s", e.RuleID, e.Timeout)
}

// NoWarehouseMatchedError reports that no candidate covered the snapshot's
// locations. It surfaces as a diagnostic, not a failure: classification-only
// rules still run.
type NoWarehouseMatchedError struct {
	DistinctLocations int
}

func (e *NoWarehouseMatchedError) Error() string {
	return fmt.Sprintf("no warehouse matched %d distinct locations", e.DistinctLocations)
}
