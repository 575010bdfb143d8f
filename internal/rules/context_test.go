package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/expr"
	"github.com/rackwatch/rackwatch/internal/location"
	"github.com/rackwatch/rackwatch/internal/templates"
)

func TestContextClassifyPrefersTemplateDeclaration(t *testing.T) {
	eval := testEvalContext(t)
	// Declared area: the template's class wins.
	require.Equal(t, location.TypeReceiving, eval.Classify(location.Parse("RECV-01")))
	// Undeclared special: falls back to the inherent parse-level type.
	require.Equal(t, location.TypeReceiving, eval.Classify(location.Parse("RECV-09")))
	// No engine at all: inherent type still answers.
	require.Equal(t, location.TypeStaging, noneContext().Classify(location.Parse("STAGE-03")))
}

func TestContextFilterNarrowsPallets(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`pallet.receipt == "R7" && location.type == "RECEIVING"`)
	require.NoError(t, err)

	eval := testEvalContext(t)
	eval.Params.Filter = &program

	match := lotPallet("P1", "RECV-01", "R7")
	require.True(t, eval.Keep(match))
	require.False(t, eval.Keep(lotPallet("P2", "RECV-01", "R8")))
	require.False(t, eval.Keep(lotPallet("P3", "01-01-001A", "R7")))
}

func TestContextFilterErrorExcludesPallet(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	// Indexing a key the activation never sets errors at eval time.
	program, err := env.Compile(`pallet["nope"] == "x"`)
	require.NoError(t, err)

	eval := testEvalContext(t)
	eval.Params.Filter = &program
	require.False(t, eval.Keep(pallet("P1", "RECV-01", 1)))
}

func TestContextNoteTemplate(t *testing.T) {
	renderer := templates.NewRenderer()
	note, err := renderer.CompileInline("note", `{{ .pallet.id }} stuck at {{ .location.code }} ({{ .location.type }})`)
	require.NoError(t, err)

	eval := testEvalContext(t)
	eval.Params.Note = note
	got := eval.Note("fallback", pallet("P1", "RECV-01", 2))
	require.Equal(t, "P1 stuck at RECV-01 (RECEIVING)", got)

	// No template: fallback text survives.
	eval.Params.Note = nil
	require.Equal(t, "fallback", eval.Note("fallback", pallet("P1", "RECV-01", 2)))
}

func TestContextNoteInEmittedAnomaly(t *testing.T) {
	renderer := templates.NewRenderer()
	note, err := renderer.CompileInline("note", `pallet {{ .pallet.id }} forgotten in receiving`)
	require.NoError(t, err)

	rule := Rule{
		ID:   "r1",
		Type: TypeStagnantPallets,
		Conditions: mustJSON(t, map[string]any{
			"locationTypes":      []string{"RECEIVING"},
			"timeThresholdHours": 6,
		}),
	}
	eval := testEvalContext(t)
	eval.Params.Note = note
	snapshot := snapshotOf(t, pallet("P1", "RECV-01", 8))

	anomalies, evalErr := NewStagnantPallets().Evaluate(context.Background(), rule, snapshot, eval)
	require.NoError(t, evalErr)
	require.Len(t, anomalies, 1)
	require.Equal(t, "pallet P1 forgotten in receiving", anomalies[0].Description)
}

func TestObviousMultiplierDefault(t *testing.T) {
	require.InDelta(t, DefaultObviousMultiplier, (&Context{}).obviousMultiplier(), 0.001)
	require.InDelta(t, 3.0, (&Context{ObviousMultiplier: 3}).obviousMultiplier(), 0.001)
}
