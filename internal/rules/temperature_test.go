package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/inventory"
)

func describedPallet(id, loc, description string) inventory.Pallet {
	p := pallet(id, loc, 1)
	p.Description = description
	return p
}

func TestTemperatureZoneMismatch(t *testing.T) {
	// STAGE-01 is zoned FROZEN in the test template.
	rule := Rule{
		ID:   "r-temp",
		Type: TypeTemperatureZone,
		Conditions: mustJSON(t, map[string]any{
			"productPatterns": []string{"*FRESH*", "*PRODUCE*"},
			"prohibitedZones": []string{"FROZEN"},
		}),
	}
	snapshot := snapshotOf(t,
		describedPallet("P1", "STAGE-01", "Fresh lettuce"),
		describedPallet("P2", "STAGE-01", "Frozen peas"),
		describedPallet("P3", "RECV-01", "Fresh lettuce"),
	)
	anomalies, err := NewTemperatureZone().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P1", anomalies[0].PalletID)
	require.Equal(t, AnomalyTemperatureMismatch, anomalies[0].AnomalyType)
	require.Equal(t, "FROZEN", anomalies[0].Details["zone"])
}

func TestTemperatureZoneCaseInsensitive(t *testing.T) {
	rule := Rule{
		ID:   "r-temp",
		Type: TypeTemperatureZone,
		Conditions: mustJSON(t, map[string]any{
			"productPatterns": []string{"*fresh*"},
			"prohibitedZones": []string{"frozen"},
		}),
	}
	snapshot := snapshotOf(t, describedPallet("P1", "STAGE-01", "FRESH HERBS"))
	anomalies, err := NewTemperatureZone().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
}

func TestTemperatureZoneNeedsWarehouse(t *testing.T) {
	rule := Rule{
		ID:   "r-temp",
		Type: TypeTemperatureZone,
		Conditions: mustJSON(t, map[string]any{
			"productPatterns": []string{"*FRESH*"},
			"prohibitedZones": []string{"FROZEN"},
		}),
	}
	snapshot := snapshotOf(t, describedPallet("P1", "STAGE-01", "Fresh lettuce"))
	anomalies, err := NewTemperatureZone().Evaluate(context.Background(), rule, snapshot, noneContext())
	require.NoError(t, err)
	require.Empty(t, anomalies)
}

func TestTemperatureZoneValidate(t *testing.T) {
	e := NewTemperatureZone()
	require.NoError(t, e.Validate(mustJSON(t, map[string]any{
		"productPatterns": []string{"*ICE*"},
		"prohibitedZones": []string{"AMBIENT"},
	})))
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"prohibitedZones": []string{"AMBIENT"},
	})))
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"productPatterns": []string{"*ICE*"},
	})))
}
