package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/location"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// Anomaly tags emitted by the overcapacity evaluator. Storage overflows are
// reported per pallet because each one needs individual investigation; special
// areas collapse to one area-level finding when differentiation is on.
const (
	AnomalyOvercapacity     = "overcapacity"
	AnomalyAreaOvercapacity = "area_overcapacity"
)

type overcapacityConditions struct {
	UseLocationDifferentiation bool `json:"useLocationDifferentiation"`
	// UseStatistical reserves the statistical gating mode. It is parsed so
	// documents carrying it stay valid, but the mode ships disabled.
	UseStatistical bool `json:"useStatistical"`
}

// SeverityAdjuster decides the severity of an overcapacity finding. The
// default elevates the rule's severity for obvious violations and otherwise
// leaves it for the engine to stamp.
type SeverityAdjuster func(base Severity, count, capacity int, obvious bool) Severity

func defaultSeverityAdjuster(base Severity, _, _ int, obvious bool) Severity {
	if obvious {
		return base.Elevate()
	}
	return base
}

type overcapacity struct {
	adjust SeverityAdjuster
}

// NewOvercapacity returns the OVERCAPACITY evaluator with the default
// severity adjuster.
func NewOvercapacity() Evaluator { return overcapacity{adjust: defaultSeverityAdjuster} }

// NewOvercapacityWithAdjuster returns the OVERCAPACITY evaluator with a
// replacement severity policy.
func NewOvercapacityWithAdjuster(adjust SeverityAdjuster) Evaluator {
	if adjust == nil {
		adjust = defaultSeverityAdjuster
	}
	return overcapacity{adjust: adjust}
}

func (overcapacity) Type() RuleType { return TypeOvercapacity }

func (overcapacity) Validate(raw json.RawMessage) error {
	var cond overcapacityConditions
	return decodeConditions(raw, &cond)
}

// occupancy is the per-location tally built in one row pass. Occupants keep
// snapshot row order so emissions stay deterministic.
type occupancy struct {
	code      string
	locType   location.Type
	capacity  int
	occupants []inventory.Pallet
}

func (e overcapacity) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond overcapacityConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	if !eval.HasEngine() {
		// Capacity is a template fact; without a warehouse there is nothing
		// to measure against.
		return nil, nil
	}

	byLocation := make(map[string]*occupancy)
	order := make([]string, 0)
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return nil, err
		}
		if p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		canon := eval.Canonical(p.Location)
		v := eval.Engine.Validate(canon)
		if v.Status != warehouse.StatusValid {
			continue
		}
		key := canon.String()
		occ, ok := byLocation[key]
		if !ok {
			occ = &occupancy{code: key, locType: v.Type, capacity: v.Capacity}
			byLocation[key] = occ
			order = append(order, key)
		}
		occ.occupants = append(occ.occupants, p)
	}

	multiplier := eval.obviousMultiplier()
	var anomalies []Anomaly
	for _, key := range order {
		occ := byLocation[key]
		count := len(occ.occupants)
		if occ.capacity <= 0 || count <= occ.capacity {
			continue
		}
		obvious := float64(count) >= multiplier*float64(occ.capacity)
		severity := e.adjust(rule.Severity, count, occ.capacity, obvious)
		details := map[string]any{
			"palletCount": count,
			"capacity":    occ.capacity,
			"overflow":    count - occ.capacity,
			"obvious":     obvious,
		}

		if cond.UseLocationDifferentiation && occ.locType != location.TypeStorage {
			// Area-level attention suffices for special areas; report once
			// with a representative pallet.
			representative := occ.occupants[0]
			anomalies = append(anomalies, Anomaly{
				PalletID:     representative.ID,
				LocationCode: occ.code,
				AnomalyType:  AnomalyAreaOvercapacity,
				Severity:     severity,
				Description: eval.Note(fmt.Sprintf("area %s holds %d pallets over its capacity of %d",
					occ.code, count, occ.capacity), representative),
				Details: details,
			})
			continue
		}
		for _, p := range occ.occupants {
			if !eval.Keep(p) {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				PalletID:     p.ID,
				LocationCode: occ.code,
				AnomalyType:  AnomalyOvercapacity,
				Severity:     severity,
				Description: eval.Note(fmt.Sprintf("pallet %s shares %s with %d others, capacity %d",
					p.ID, occ.code, count-1, occ.capacity), p),
				Details: details,
			})
		}
	}
	return anomalies, nil
}
