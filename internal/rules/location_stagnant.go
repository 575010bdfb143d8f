package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// AnomalyLocationStagnant tags pallets aging past a threshold inside a
// specific location subset.
const AnomalyLocationStagnant = "location_stagnant"

type locationStagnantConditions struct {
	LocationPattern    string  `json:"locationPattern"`
	TimeThresholdHours float64 `json:"timeThresholdHours"`
}

// locationStagnant is the targeted sibling of STAGNANT_PALLETS: instead of
// location types it scopes by a glob over canonical location codes, so a rule
// can watch one aisle or one named area.
type locationStagnant struct{}

// NewLocationStagnant returns the LOCATION_SPECIFIC_STAGNANT evaluator.
func NewLocationStagnant() Evaluator { return locationStagnant{} }

func (locationStagnant) Type() RuleType { return TypeLocationStagnant }

func (locationStagnant) Validate(raw json.RawMessage) error {
	var cond locationStagnantConditions
	if err := decodeConditions(raw, &cond); err != nil {
		return err
	}
	var errs error
	if _, err := compileGlob("locationPattern", cond.LocationPattern); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cond.TimeThresholdHours <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: timeThresholdHours must be positive, got %v", cond.TimeThresholdHours))
	}
	return errs
}

func (locationStagnant) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond locationStagnantConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	pattern, err := compileGlob("locationPattern", cond.LocationPattern)
	if err != nil {
		return nil, err
	}
	threshold := time.Duration(cond.TimeThresholdHours * float64(time.Hour))

	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if p.HasFault(inventory.FaultMissingLocation) || p.CreationDate.IsZero() {
			continue
		}
		code := eval.Canonical(p.Location).String()
		if !pattern.Match(code) {
			continue
		}
		age := eval.Now.Sub(p.CreationDate)
		if age <= threshold {
			continue
		}
		if !eval.Keep(p) {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     p.ID,
			LocationCode: p.Location,
			AnomalyType:  AnomalyLocationStagnant,
			Description: eval.Note(fmt.Sprintf("pallet %s has sat at %s for %.1fh, past the %.0fh threshold for %s",
				p.ID, code, age.Hours(), cond.TimeThresholdHours, cond.LocationPattern), p),
			Details: map[string]any{
				"ageHours":        age.Hours(),
				"thresholdHours":  cond.TimeThresholdHours,
				"locationPattern": cond.LocationPattern,
			},
		})
	}
	return anomalies, nil
}
