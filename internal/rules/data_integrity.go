package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// Anomaly tags emitted by the data-integrity evaluator.
const (
	AnomalyDuplicateScan    = "duplicate_scan"
	AnomalyCorruptLocation  = "corrupt_location"
	AnomalyMissingPalletID  = "missing_pallet_id"
	AnomalyCorruptTimestamp = "corrupt_timestamp"
)

// corruptLocationMaxLen is the longest location string any export flavour
// legitimately produces; anything longer is scanner garbage.
const corruptLocationMaxLen = 20

// corruptLocationChars never appear in real location codes.
const corruptLocationChars = "@#!?"

type dataIntegrityConditions struct {
	CheckDuplicateScans      *bool `json:"checkDuplicateScans"`
	CheckImpossibleLocations *bool `json:"checkImpossibleLocations"`
}

// dataIntegrity surfaces snapshot quality problems: duplicate pallet scans,
// scanner-garbage location strings, and the rows normalization flagged for
// missing ids or unparseable timestamps. It needs no warehouse context and
// always runs.
type dataIntegrity struct{}

// NewDataIntegrity returns the DATA_INTEGRITY evaluator.
func NewDataIntegrity() Evaluator { return dataIntegrity{} }

func (dataIntegrity) Type() RuleType { return TypeDataIntegrity }

func (dataIntegrity) Validate(raw json.RawMessage) error {
	var cond dataIntegrityConditions
	return decodeConditions(raw, &cond)
}

func (dataIntegrity) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond dataIntegrityConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	checkDuplicates := cond.CheckDuplicateScans == nil || *cond.CheckDuplicateScans
	checkLocations := cond.CheckImpossibleLocations == nil || *cond.CheckImpossibleLocations

	occurrences := make(map[string]int, snapshot.Len())
	if checkDuplicates {
		for _, p := range snapshot.Pallets() {
			if p.ID != "" {
				occurrences[p.ID]++
			}
		}
	}

	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if checkDuplicates && p.ID != "" && occurrences[p.ID] >= 2 {
			anomalies = append(anomalies, Anomaly{
				PalletID:     p.ID,
				LocationCode: p.Location,
				AnomalyType:  AnomalyDuplicateScan,
				Description: eval.Note(fmt.Sprintf("pallet %s was scanned %d times (row %d)",
					p.ID, occurrences[p.ID], p.Row), p),
				Details: map[string]any{"occurrences": occurrences[p.ID], "row": p.Row},
			})
		}
		if checkLocations && corruptLocation(p.Location) {
			anomalies = append(anomalies, Anomaly{
				PalletID:     p.ID,
				LocationCode: p.Location,
				AnomalyType:  AnomalyCorruptLocation,
				Description: eval.Note(fmt.Sprintf("location %q on pallet %s looks like scanner garbage",
					p.Location, p.ID), p),
				Details: map[string]any{"length": len(p.Location)},
			})
		}
		if p.HasFault(inventory.FaultMissingID) {
			anomalies = append(anomalies, Anomaly{
				LocationCode: p.Location,
				AnomalyType:  AnomalyMissingPalletID,
				Description:  fmt.Sprintf("row %d has no pallet id", p.Row),
				Details:      map[string]any{"row": p.Row},
			})
		}
		if p.HasFault(inventory.FaultBadTimestamp) {
			anomalies = append(anomalies, Anomaly{
				PalletID:     p.ID,
				LocationCode: p.Location,
				AnomalyType:  AnomalyCorruptTimestamp,
				Description:  fmt.Sprintf("pallet %s carries an unreadable creation date (row %d)", p.ID, p.Row),
				Details:      map[string]any{"row": p.Row},
			})
		}
	}
	return anomalies, nil
}

func corruptLocation(code string) bool {
	if code == "" {
		return false
	}
	return len(code) > corruptLocationMaxLen || strings.ContainsAny(code, corruptLocationChars)
}
