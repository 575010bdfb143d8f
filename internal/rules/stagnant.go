package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// AnomalyStagnantPallet tags pallets that overstayed a flow-through area.
const AnomalyStagnantPallet = "stagnant_pallet"

type stagnantConditions struct {
	LocationTypes      []string `json:"locationTypes"`
	TimeThresholdHours float64  `json:"timeThresholdHours"`
	ExcludedLocations  []string `json:"excludedLocations"`
}

// stagnantPallets flags pallets sitting in flow-through areas (receiving,
// staging) past a time threshold. Conditions scope it either by inclusion
// (locationTypes) or by exclusion (excludedLocations); inclusion wins when
// both are present.
type stagnantPallets struct{}

// NewStagnantPallets returns the STAGNANT_PALLETS evaluator.
func NewStagnantPallets() Evaluator { return stagnantPallets{} }

func (stagnantPallets) Type() RuleType { return TypeStagnantPallets }

func (stagnantPallets) Validate(raw json.RawMessage) error {
	var cond stagnantConditions
	if err := decodeConditions(raw, &cond); err != nil {
		return err
	}
	var errs error
	if cond.TimeThresholdHours <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: timeThresholdHours must be positive, got %v", cond.TimeThresholdHours))
	}
	if len(cond.LocationTypes) == 0 && len(cond.ExcludedLocations) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: locationTypes or excludedLocations required"))
	}
	if _, err := parseLocationTypes("locationTypes", cond.LocationTypes); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := parseLocationTypes("excludedLocations", cond.ExcludedLocations); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (e stagnantPallets) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond stagnantConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	include, err := parseLocationTypes("locationTypes", cond.LocationTypes)
	if err != nil {
		return nil, err
	}
	exclude, err := parseLocationTypes("excludedLocations", cond.ExcludedLocations)
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
		locType := eval.Classify(eval.Canonical(p.Location))
		if len(include) > 0 {
			if !include[locType] {
				continue
			}
		} else if exclude[locType] {
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
			AnomalyType:  AnomalyStagnantPallet,
			Description: eval.Note(fmt.Sprintf("pallet %s has sat in %s (%s) for %.1fh, past the %.0fh threshold",
				p.ID, p.Location, locType, age.Hours(), cond.TimeThresholdHours), p),
			Details: map[string]any{
				"ageHours":       age.Hours(),
				"thresholdHours": cond.TimeThresholdHours,
				"locationType":   string(locType),
			},
		})
	}
	return anomalies, nil
}
