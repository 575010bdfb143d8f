package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocationStagnantGlobScope(t *testing.T) {
	rule := Rule{
		ID:   "r-ls",
		Type: TypeLocationStagnant,
		Conditions: mustJSON(t, map[string]any{
			"locationPattern":    "01-01-*",
			"timeThresholdHours": 24,
		}),
	}
	snapshot := snapshotOf(t,
		pallet("P1", "01-01-001A", 48),
		pallet("P2", "01-01-002A", 2),
		pallet("P3", "02-01-001A", 48),
	)
	anomalies, err := NewLocationStagnant().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, AnomalyLocationStagnant, anomalies[0].AnomalyType)
}

func TestLocationStagnantMatchesCanonicalSpelling(t *testing.T) {
	// The glob runs over the canonical form, so export spelling variants
	// cannot dodge it.
	rule := Rule{
		ID:   "r-ls",
		Type: TypeLocationStagnant,
		Conditions: mustJSON(t, map[string]any{
			"locationPattern":    "01-01-010*",
			"timeThresholdHours": 1,
		}),
	}
	snapshot := snapshotOf(t, pallet("P1", "010A", 3))
	anomalies, err := NewLocationStagnant().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
}

func TestLocationStagnantRunsWithoutWarehouse(t *testing.T) {
	rule := Rule{
		ID:   "r-ls",
		Type: TypeLocationStagnant,
		Conditions: mustJSON(t, map[string]any{
			"locationPattern":    "RECV-*",
			"timeThresholdHours": 2,
		}),
	}
	snapshot := snapshotOf(t, pallet("P1", "RECV-01", 4))
	anomalies, err := NewLocationStagnant().Evaluate(context.Background(), rule, snapshot, noneContext())
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
}

func TestLocationStagnantValidate(t *testing.T) {
	e := NewLocationStagnant()
	require.NoError(t, e.Validate(mustJSON(t, map[string]any{
		"locationPattern":    "01-*",
		"timeThresholdHours": 2,
	})))
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"timeThresholdHours": 2,
	})), "missing pattern")
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locationPattern": "01-*",
	})), "missing threshold")
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locationPattern":    "[",
		"timeThresholdHours": 2,
	})), "bad glob")
}
