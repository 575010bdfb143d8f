package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/warehouse"
)

func TestProductIncompatibilityRuleMappings(t *testing.T) {
	rule := Rule{
		ID:   "r-pc",
		Type: TypeProductIncompatibility,
		Conditions: mustJSON(t, map[string]any{
			"locations": []map[string]any{
				{"pattern": "01-01-*", "allowedProducts": []string{"*FROZEN*"}},
			},
		}),
	}
	snapshot := snapshotOf(t,
		describedPallet("P1", "01-01-001A", "Frozen peas"),
		describedPallet("P2", "01-01-002A", "Fresh basil"),
		describedPallet("P3", "02-01-001A", "Fresh basil"),
	)
	anomalies, err := NewProductIncompatibility().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P2", anomalies[0].PalletID)
	require.Equal(t, AnomalyProductIncompatibility, anomalies[0].AnomalyType)
}

func TestProductIncompatibilityTemplateAllowList(t *testing.T) {
	// A template-declared allow list applies when the rule maps nothing for
	// the location.
	template := testTemplate()
	template.SpecialAreas = append(template.SpecialAreas, warehouse.SpecialArea{
		Code:            "DOCK-01",
		Type:            warehouse.AreaDock,
		Capacity:        5,
		AllowedProducts: []string{"*PALLET JACK*"},
	})
	engine, err := warehouse.NewEngine(template)
	require.NoError(t, err)
	eval := testEvalContext(t)
	eval.Engine = engine

	rule := Rule{ID: "r-pc", Type: TypeProductIncompatibility}
	snapshot := snapshotOf(t,
		describedPallet("P1", "DOCK-01", "Pallet jack 3000"),
		describedPallet("P2", "DOCK-01", "Frozen peas"),
	)
	anomalies, evalErr := NewProductIncompatibility().Evaluate(context.Background(), rule, snapshot, eval)
	require.NoError(t, evalErr)
	require.Len(t, anomalies, 1)
	require.Equal(t, "P2", anomalies[0].PalletID)
}

func TestProductIncompatibilityUndeclaredAcceptsEverything(t *testing.T) {
	rule := Rule{ID: "r-pc", Type: TypeProductIncompatibility}
	snapshot := snapshotOf(t, describedPallet("P1", "01-01-001A", "Anything at all"))
	anomalies, err := NewProductIncompatibility().Evaluate(context.Background(), rule, snapshot, testEvalContext(t))
	require.NoError(t, err)
	require.Empty(t, anomalies)
}

func TestProductIncompatibilityValidate(t *testing.T) {
	e := NewProductIncompatibility()
	require.NoError(t, e.Validate(nil))
	require.NoError(t, e.Validate(mustJSON(t, map[string]any{
		"locations": []map[string]any{
			{"pattern": "RECV-*", "allowedProducts": []string{"*"}},
		},
	})))
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locations": []map[string]any{
			{"pattern": "RECV-*"},
		},
	})), "missing allow list")
	require.Error(t, e.Validate(mustJSON(t, map[string]any{
		"locations": []map[string]any{
			{"pattern": "[", "allowedProducts": []string{"*"}},
		},
	})), "bad glob")
}
