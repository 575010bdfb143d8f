package rules

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

func TestStagnantPalletsReceivingThreshold(t *testing.T) {
	rule := Rule{
		ID:   "r1",
		Type: TypeStagnantPallets,
		Conditions: mustJSON(t, map[string]any{
			"locationTypes":      []string{"RECEIVING"},
			"timeThresholdHours": 6,
		}),
	}
	snapshot := snapshotOf(t,
		pallet("P1", "RECV-01", 8),
		pallet("P2", "RECV-01", 2),
		pallet("P3", "01-01-001A", 10),
	)

	anomalies, err := NewStagnantPallets().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, AnomalyStagnantPallet, anomalies[0].AnomalyType)
	require.Equal(t, "RECV-01", anomalies[0].LocationCode)
	require.InDelta(t, 8.0, anomalies[0].Details["ageHours"], 0.01)
}

func TestStagnantPalletsExclusionForm(t *testing.T) {
	rule := Rule{
		ID:   "r1",
		Type: TypeStagnantPallets,
		Conditions: mustJSON(t, map[string]any{
			"excludedLocations":  []string{"STORAGE"},
			"timeThresholdHours": 6,
		}),
	}
	snapshot := snapshotOf(t,
		pallet("P1", "RECV-01", 8),
		pallet("P2", "STAGE-01", 12),
		pallet("P3", "01-01-001A", 48),
	)

	anomalies, err := NewStagnantPallets().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, "P2", anomalies[1].PalletID)
}

func TestStagnantPalletsSkipsUnusableRows(t *testing.T) {
	rule := Rule{
		ID:   "r1",
		Type: TypeStagnantPallets,
		Conditions: mustJSON(t, map[string]any{
			"locationTypes":      []string{"RECEIVING"},
			"timeThresholdHours": 1,
		}),
	}
	noDate := inventory.Pallet{ID: "P2", Location: "RECV-01"}
	noLocation := inventory.Pallet{ID: "P3", Faults: inventory.FaultMissingLocation}
	snapshot := snapshotOf(t, pallet("P1", "RECV-01", 3), noDate, noLocation)

	anomalies, err := NewStagnantPallets().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P1", anomalies[0].PalletID)
}

func TestStagnantPalletsInherentTypesWithoutWarehouse(t *testing.T) {
	// Classification-only rules keep working from the parse-level type when
	// no warehouse matched.
	rule := Rule{
		ID:   "r1",
		Type: TypeStagnantPallets,
		Conditions: mustJSON(t, map[string]any{
			"locationTypes":      []string{"RECEIVING"},
			"timeThresholdHours": 6,
		}),
	}
	snapshot := snapshotOf(t, pallet("P1", "RECV-07", 9))

	anomalies, err := NewStagnantPallets().Evaluate(context.Background(), rule, snapshot, noneContext())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
}

func TestStagnantPalletsValidate(t *testing.T) {
	e := NewStagnantPallets()
	require.NoError(t, e.Validate(mustJSON(t, map[string]any{
		"locationTypes":      []string{"RECEIVING", "STAGING"},
		"timeThresholdHours": 2,
	})))
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locationTypes": []string{"RECEIVING"},
	})), "missing threshold")
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"timeThresholdHours": 2,
	})), "no scope")
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locationTypes":      []string{"BASEMENT"},
		"timeThresholdHours": 2,
	})), "unknown type")
	require.Error(t, e.Validate(json.RawMessage(`{"timeThresholdHours": "soon"}`)))
}
