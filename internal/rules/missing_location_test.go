package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

func TestMissingLocation(t *testing.T) {
	rule := Rule{ID: "r-ml", Type: TypeMissingLocation}
	missing := inventory.Pallet{ID: "P1", Faults: inventory.FaultMissingLocation, Row: 0}
	nan := inventory.Pallet{ID: "P2", Location: "NAN", Faults: inventory.FaultMissingLocation, Row: 1}
	placed := pallet("P3", "01-01-001A", 1)
	snapshot := snapshotOf(t, missing, nan, placed)

	anomalies, err := NewMissingLocation().Evaluate(context.Background(), rule, snapshot, noneContext())
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, "P2", anomalies[1].PalletID)
	require.Equal(t, AnomalyMissingLocation, anomalies[0].AnomalyType)
}

func TestMissingLocationFromNormalizedRows(t *testing.T) {
	// End to end through Normalize: NULL and NAN cells carry the fault flag.
	snapshot, err := inventory.Normalize([]map[string]any{
		{"palletId": "P1", "location": "01-01-001A"},
		{"palletId": "P2", "location": "NAN"},
		{"palletId": "P3", "location": ""},
	})
	require.NoError(t, err)

	rule := Rule{ID: "r-ml", Type: TypeMissingLocation}
	anomalies, evalErr := NewMissingLocation().Evaluate(context.Background(), rule, snapshot, noneContext())
	require.NoError(t, evalErr)
	require.Len(t, anomalies, 2)
	require.Equal(t, "P2", anomalies[0].PalletID)
	require.Equal(t, "P3", anomalies[1].PalletID)
}
