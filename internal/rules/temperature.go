package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// AnomalyTemperatureMismatch tags temperature-sensitive products sitting in a
// zone their rule prohibits.
const AnomalyTemperatureMismatch = "temperature_zone_mismatch"

type temperatureConditions struct {
	ProductPatterns []string `json:"productPatterns"`
	ProhibitedZones []string `json:"prohibitedZones"`
}

// temperatureZone matches pallet descriptions against product globs and
// flags any match whose resolved location zone is prohibited. Zones are a
// template fact, so the rule yields nothing without a warehouse.
type temperatureZone struct{}

// NewTemperatureZone returns the TEMPERATURE_ZONE_MISMATCH evaluator.
func NewTemperatureZone() Evaluator { return temperatureZone{} }

func (temperatureZone) Type() RuleType { return TypeTemperatureZone }

func (temperatureZone) Validate(raw json.RawMessage) error {
	var cond temperatureConditions
	if err := decodeConditions(raw, &cond); err != nil {
		return err
	}
	var errs error
	if len(cond.ProductPatterns) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: productPatterns required"))
	}
	if len(cond.ProhibitedZones) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("rules: prohibitedZones required"))
	}
	if _, err := compileGlobs("productPatterns", cond.ProductPatterns); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (temperatureZone) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond temperatureConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	if !eval.HasEngine() {
		return nil, nil
	}
	patterns, err := compileGlobs("productPatterns", cond.ProductPatterns)
	if err != nil {
		return nil, err
	}
	prohibited := make(map[string]bool, len(cond.ProhibitedZones))
	for _, zone := range cond.ProhibitedZones {
		prohibited[strings.ToUpper(strings.TrimSpace(zone))] = true
	}

	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if p.Description == "" || p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		if !matchAny(patterns, p.Description) {
			continue
		}
		v := eval.Engine.Validate(eval.Canonical(p.Location))
		if v.Status != warehouse.StatusValid || !prohibited[strings.ToUpper(v.Zone)] {
			continue
		}
		if !eval.Keep(p) {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     p.ID,
			LocationCode: p.Location,
			AnomalyType:  AnomalyTemperatureMismatch,
			Description: eval.Note(fmt.Sprintf("pallet %s (%s) sits in prohibited zone %s at %s",
				p.ID, p.Description, v.Zone, p.Location), p),
			Details: map[string]any{
				"zone":            v.Zone,
				"prohibitedZones": cond.ProhibitedZones,
				"description":     p.Description,
			},
		})
	}
	return anomalies, nil
}
