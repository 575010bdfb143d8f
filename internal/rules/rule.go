// Package rules defines the rule model, the anomaly findings evaluators
// emit, and one evaluator per rule type. Evaluators are pure functions of the
// snapshot and their rule, which is what lets the engine fan them out in
// parallel and isolate their failures.
package rules

import (
	"encoding/json"
	"sort"
)

// RuleType selects which evaluator runs a rule.
type RuleType string

const (
	TypeStagnantPallets        RuleType = "STAGNANT_PALLETS"
	TypeUncoordinatedLots      RuleType = "UNCOORDINATED_LOTS"
	TypeOvercapacity           RuleType = "OVERCAPACITY"
	TypeInvalidLocation        RuleType = "INVALID_LOCATION"
	TypeLocationStagnant       RuleType = "LOCATION_SPECIFIC_STAGNANT"
	TypeTemperatureZone        RuleType = "TEMPERATURE_ZONE_MISMATCH"
	TypeDataIntegrity          RuleType = "DATA_INTEGRITY"
	TypeMissingLocation        RuleType = "MISSING_LOCATION"
	TypeProductIncompatibility RuleType = "PRODUCT_INCOMPATIBILITY"
)

// Severity is the operator-facing urgency of a rule or anomaly.
type Severity string

const (
	SeverityVeryHigh Severity = "VERY_HIGH"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Known reports whether s is one of the defined severities.
func (s Severity) Known() bool { return s.rank() > 0 }

func (s Severity) rank() int {
	switch s {
	case SeverityVeryHigh:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Elevate raises a severity one step, saturating at VERY_HIGH. The obvious
// overcapacity bypass uses it so blatant violations outrank their rule's
// configured urgency.
func (s Severity) Elevate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityVeryHigh
	}
}

// Category groups rules by operational theme and fixes their dispatch order:
// flow problems age fastest, then space pressure, then product placement.
type Category string

const (
	CategoryFlowTime Category = "FLOW_TIME"
	CategorySpace    Category = "SPACE"
	CategoryProduct  Category = "PRODUCT"
)

// Known reports whether c is one of the defined categories.
func (c Category) Known() bool { return c.rank() < len(categoryOrder) }

var categoryOrder = map[Category]int{
	CategoryFlowTime: 0,
	CategorySpace:    1,
	CategoryProduct:  2,
}

func (c Category) rank() int {
	if rank, ok := categoryOrder[c]; ok {
		return rank
	}
	return len(categoryOrder)
}

// Rule is one configured check. Conditions are type-specific and stay raw
// until the owning evaluator decodes them; Parameters carry the optional
// cross-cutting extras (CEL filter, note template) the engine compiles.
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             RuleType        `json:"type"`
	CategoryPriority Category        `json:"categoryPriority"`
	Severity         Severity        `json:"severity"`
	IsActive         bool            `json:"isActive"`
	Conditions       json.RawMessage `json:"conditions,omitempty"`
	Parameters       json.RawMessage `json:"parameters,omitempty"`
}

// ActiveInOrder filters out inactive rules and fixes the evaluation order:
// category priority first, then severity descending, then rule id. The
// result ordering decides both dispatch and the final anomaly list.
func ActiveInOrder(rules []Rule) []Rule {
	active := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.CategoryPriority.rank() != b.CategoryPriority.rank() {
			return a.CategoryPriority.rank() < b.CategoryPriority.rank()
		}
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		return a.ID < b.ID
	})
	return active
}
