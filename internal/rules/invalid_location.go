package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// AnomalyInvalidLocation tags pallets sitting at codes the warehouse universe
// does not contain, unparseable codes included.
const AnomalyInvalidLocation = "invalid_location"

// invalidLocation reports every pallet whose location is outside the resolved
// warehouse universe. Unknown storage codes stay invalid; there is no
// auto-create path.
type invalidLocation struct{}

// NewInvalidLocation returns the INVALID_LOCATION evaluator.
func NewInvalidLocation() Evaluator { return invalidLocation{} }

func (invalidLocation) Type() RuleType { return TypeInvalidLocation }

func (invalidLocation) Validate(raw json.RawMessage) error {
	var cond struct{}
	return decodeConditions(raw, &cond)
}

func (invalidLocation) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	if !eval.HasEngine() {
		// Validity needs a universe; without one the missing-location and
		// data-integrity rules still cover the snapshot-level faults.
		return nil, nil
	}

	// One validation per distinct code, then per-pallet emission in row order.
	verdicts := make(map[string]warehouse.Status)
	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		status, seen := verdicts[p.Location]
		if !seen {
			status = eval.Engine.Validate(eval.Canonical(p.Location)).Status
			verdicts[p.Location] = status
		}
		if status == warehouse.StatusValid {
			continue
		}
		if !eval.Keep(p) {
			continue
		}
		reason := "not in the warehouse universe"
		tag := "not_in_universe"
		if status == warehouse.StatusUnparseable {
			reason = "not a recognizable location code"
			tag = "unparseable"
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     p.ID,
			LocationCode: p.Location,
			AnomalyType:  AnomalyInvalidLocation,
			Description: eval.Note(fmt.Sprintf("pallet %s sits at %s, which is %s",
				p.ID, p.Location, reason), p),
			Details: map[string]any{
				"warehouseId": eval.Warehouse.WarehouseID,
				"status":      tag,
			},
		})
	}
	return anomalies, nil
}
