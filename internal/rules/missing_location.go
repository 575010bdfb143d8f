package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// AnomalyMissingLocation tags rows whose location cell is empty, NULL or NAN.
const AnomalyMissingLocation = "missing_location"

// missingLocation reports rows with no usable location. It consumes the fault
// flag normalization sets, so empty, NULL and NAN cells are all covered, and
// it runs with or without a warehouse context.
type missingLocation struct{}

// NewMissingLocation returns the MISSING_LOCATION evaluator.
func NewMissingLocation() Evaluator { return missingLocation{} }

func (missingLocation) Type() RuleType { return TypeMissingLocation }

func (missingLocation) Validate(raw json.RawMessage) error {
	var cond struct{}
	return decodeConditions(raw, &cond)
}

func (missingLocation) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if !p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		if !eval.Keep(p) {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     p.ID,
			LocationCode: p.Location,
			AnomalyType:  AnomalyMissingLocation,
			Description: eval.Note(fmt.Sprintf("pallet %s has no location (row %d)",
				p.ID, p.Row), p),
			Details: map[string]any{"row": p.Row},
		})
	}
	return anomalies, nil
}
