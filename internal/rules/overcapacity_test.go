package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

// Storage slot 01-01-001A (capacity 1) holds 2 pallets; RECV-01 (capacity 10)
// holds 12.
func overfullSnapshot(t *testing.T) *inventory.Snapshot {
	t.Helper()
	pallets := []inventory.Pallet{
		pallet("P1", "01-01-001A", 1),
		pallet("P2", "01-01-001A", 1),
	}
	for i := 0; i < 12; i++ {
		pallets = append(pallets, pallet(string(rune('a'+i)), "RECV-01", 1))
	}
	return inventory.NewSnapshot(pallets)
}

func TestOvercapacityWithDifferentiation(t *testing.T) {
	rule := Rule{
		ID:         "r-cap",
		Type:       TypeOvercapacity,
		Severity:   SeverityMedium,
		Conditions: mustJSON(t, map[string]any{"useLocationDifferentiation": true}),
	}
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, overfullSnapshot(t), testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 3)

	// Storage overflow: one anomaly per pallet.
	require.Equal(t, AnomalyOvercapacity, anomalies[0].AnomalyType)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, "P2", anomalies[1].PalletID)
	// Special area: one anomaly for the location with a representative pallet.
	require.Equal(t, AnomalyAreaOvercapacity, anomalies[2].AnomalyType)
	require.Equal(t, "RECV-01", anomalies[2].LocationCode)
	require.Equal(t, "a", anomalies[2].PalletID)
	require.Equal(t, 12, anomalies[2].Details["palletCount"])
}

func TestOvercapacityWithoutDifferentiation(t *testing.T) {
	rule := Rule{
		ID:         "r-cap",
		Type:       TypeOvercapacity,
		Severity:   SeverityMedium,
		Conditions: mustJSON(t, map[string]any{"useLocationDifferentiation": false}),
	}
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, overfullSnapshot(t), testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 14)
}

func TestOvercapacityObviousViolationElevatesSeverity(t *testing.T) {
	rule := Rule{
		ID:       "r-cap",
		Type:     TypeOvercapacity,
		Severity: SeverityMedium,
	}
	// 01-01-001A holds 2 pallets against capacity 1: exactly the 2x obvious
	// multiplier, so severity steps up. RECV-01 at 12/10 stays at base.
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, overfullSnapshot(t), testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 14)
	require.Equal(t, SeverityHigh, anomalies[0].Severity)
	require.Equal(t, true, anomalies[0].Details["obvious"])
	require.Equal(t, SeverityMedium, anomalies[2].Severity)
	require.Equal(t, false, anomalies[2].Details["obvious"])
}

func TestOvercapacityCustomAdjuster(t *testing.T) {
	rule := Rule{ID: "r-cap", Type: TypeOvercapacity, Severity: SeverityLow}
	adjusted := NewOvercapacityWithAdjuster(func(Severity, int, int, bool) Severity {
		return SeverityVeryHigh
	})
	anomalies, err := adjusted.Evaluate(context.Background(), rule, overfullSnapshot(t), testEvalContext(t))
	require.NoError(t, err)
	require.NotEmpty(t, anomalies)
	for _, a := range anomalies {
		require.Equal(t, SeverityVeryHigh, a.Severity)
	}
}

func TestOvercapacityWithinCapacityIsQuiet(t *testing.T) {
	rule := Rule{ID: "r-cap", Type: TypeOvercapacity}
	snapshot := snapshotOf(t,
		pallet("P1", "01-01-001A", 1),
		pallet("P2", "01-01-002A", 1),
		pallet("P3", "RECV-01", 1),
	)
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Empty(t, anomalies)
}

func TestOvercapacityNeedsWarehouse(t *testing.T) {
	rule := Rule{ID: "r-cap", Type: TypeOvercapacity}
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, overfullSnapshot(t), noneContext())
	require.NoError(t, err)
	require.Empty(t, anomalies)
}

func TestOvercapacityCollapsesSpellings(t *testing.T) {
	// Two spellings of the same slot count against one capacity.
	rule := Rule{ID: "r-cap", Type: TypeOvercapacity}
	snapshot := snapshotOf(t,
		pallet("P1", "01-01-010A", 1),
		pallet("P2", "010A", 1),
	)
	anomalies, err := NewOvercapacity().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	require.Equal(t, "01-01-010A", anomalies[0].LocationCode)
	require.Equal(t, "01-01-010A", anomalies[1].LocationCode)
}
