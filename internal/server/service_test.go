package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"github.com/rackwatch/rackwatch/internal/config"
	"github.com/rackwatch/rackwatch/internal/engine"
	"github.com/rackwatch/rackwatch/internal/engine/cache"
	"github.com/rackwatch/rackwatch/internal/metrics"
	"github.com/rackwatch/rackwatch/internal/rules"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

var serviceNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func testWarehouses() []warehouse.Candidate {
	return []warehouse.Candidate{{
		Template: warehouse.Template{
			WarehouseID:           "W1",
			NumAisles:             2,
			RacksPerAisle:         1,
			PositionsPerRack:      22,
			LevelsPerPosition:     4,
			DefaultPalletCapacity: 1,
			SpecialAreas: []warehouse.SpecialArea{
				{Code: "RECV-01", Type: warehouse.AreaReceiving, Capacity: 10},
			},
		},
	}}
}

func testStagnantRule(t *testing.T) rules.Rule {
	t.Helper()
	conditions, err := json.Marshal(map[string]any{
		"locationTypes":      []string{"RECEIVING"},
		"timeThresholdHours": 6,
	})
	require.NoError(t, err)
	return rules.Rule{
		ID:               "stuck-receiving",
		Name:             "Stuck in receiving",
		Type:             rules.TypeStagnantPallets,
		CategoryPriority: rules.CategoryFlowTime,
		Severity:         rules.SeverityHigh,
		IsActive:         true,
		Conditions:       conditions,
	}
}

func snapshotRow(id, loc string, ageHours float64) map[string]any {
	row := map[string]any{"Pallet ID": id, "Location": loc}
	if ageHours >= 0 {
		row["Creation Date"] = serviceNow.Add(-time.Duration(ageHours * float64(time.Hour))).Format(time.RFC3339)
	}
	return row
}

func newTestService(t *testing.T, bundle config.Bundle, opts engine.Options) *Service {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return serviceNow }
	}
	eng, err := engine.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	rec := metrics.NewRecorder(nil)
	svc, err := NewService(eng, rec, discardLogger(), Settings{
		PerRuleTimeoutMs:           30000,
		ParallelEvaluators:         2,
		ObviousViolationMultiplier: 2.0,
		CacheBackend:               "memory",
		CacheTTLSeconds:            300,
	})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateBundle(context.Background(), bundle))
	return svc
}

func newExpect(t *testing.T, svc *Service) *httpexpect.Expect {
	t.Helper()
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})
}

func TestEvaluateUsesRequestDefinitions(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	payload := map[string]any{
		"snapshot": []map[string]any{
			snapshotRow("P1", "RECV-01", 10),
			snapshotRow("P2", "01-01-001A", 2),
		},
		"rules":      []rules.Rule{testStagnantRule(t)},
		"warehouses": testWarehouses(),
	}

	report := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	report.Value("runId").String().NotEmpty()
	report.Value("warehouse").Object().Value("warehouseId").IsEqual("W1")
	anomalies := report.Value("anomalies").Array()
	anomalies.Length().IsEqual(1)
	anomalies.Value(0).Object().Value("palletId").IsEqual("P1")
	anomalies.Value(0).Object().Value("ruleId").IsEqual("stuck-receiving")
}

func TestEvaluateFallsBackToLoadedBundle(t *testing.T) {
	bundle := config.Bundle{
		Rules:      []rules.Rule{testStagnantRule(t)},
		Warehouses: testWarehouses(),
		Sources:    []string{"rules/rules.yaml"},
	}
	svc := newTestService(t, bundle, engine.Options{})
	expect := newExpect(t, svc)

	payload := map[string]any{
		"snapshot": []map[string]any{snapshotRow("P1", "RECV-01", 10)},
	}

	report := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	report.Value("anomalies").Array().Length().IsEqual(1)
	report.Value("ruleResults").Array().Length().IsEqual(1)
}

func TestEvaluateEmptyRuleListDisablesBundleFallback(t *testing.T) {
	bundle := config.Bundle{
		Rules:      []rules.Rule{testStagnantRule(t)},
		Warehouses: testWarehouses(),
	}
	svc := newTestService(t, bundle, engine.Options{})
	expect := newExpect(t, svc)

	payload := map[string]any{
		"snapshot": []map[string]any{snapshotRow("P1", "RECV-01", 10)},
		"rules":    []rules.Rule{},
	}

	report := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().
		Status(http.StatusOK).
		JSON().Object()

	report.Value("anomalies").Array().Length().IsEqual(0)
	report.Value("ruleResults").Array().Length().IsEqual(0)
}

func TestEvaluateRejectsMalformedBody(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	expect.POST("/v1/evaluate").WithBytes([]byte("{not json")).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").String().Contains("decode request")
}

func TestEvaluateRejectsSnapshotFaults(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	payload := map[string]any{
		"snapshot": []map[string]any{{"Pallet ID": "P1"}},
	}

	expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").String().Contains("location")
}

func TestEvaluateRejectsWrongMethod(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	expect.GET("/v1/evaluate").Expect().Status(http.StatusMethodNotAllowed)
}

func TestHealthReportsBundleState(t *testing.T) {
	bundle := config.Bundle{
		Rules:      []rules.Rule{testStagnantRule(t)},
		Warehouses: testWarehouses(),
		Sources:    []string{"rules/rules.yaml", "warehouses/main.yaml"},
	}
	svc := newTestService(t, bundle, engine.Options{Cache: cache.NewMemory(time.Minute)})
	expect := newExpect(t, svc)

	health := expect.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object()
	health.Value("status").IsEqual("ok")
	health.Value("rules").IsEqual(1)
	health.Value("warehouses").IsEqual(1)
	health.Value("cacheEntries").IsEqual(0)
	health.Value("sources").Array().Length().IsEqual(2)
	health.Value("observedAt").String().NotEmpty()

	payload := map[string]any{
		"snapshot": []map[string]any{snapshotRow("P1", "RECV-01", 10)},
	}
	expect.POST("/v1/evaluate").WithJSON(payload).Expect().Status(http.StatusOK)

	expect.GET("/healthz").Expect().Status(http.StatusOK).
		JSON().Object().Value("cacheEntries").IsEqual(1)
}

func TestHealthDegradedOnSkips(t *testing.T) {
	bundle := config.Bundle{
		Rules: []rules.Rule{testStagnantRule(t)},
		Skipped: []config.DefinitionSkip{
			{Kind: "rule", Name: "dup", Reason: "duplicate definition", Sources: []string{"a.yaml", "b.yaml"}},
		},
	}
	svc := newTestService(t, bundle, engine.Options{})
	expect := newExpect(t, svc)

	health := expect.GET("/healthz").Expect().Status(http.StatusOK).JSON().Object()
	health.Value("status").IsEqual("degraded")
	health.Value("skippedDefinitions").Array().Length().IsEqual(1)
}

func TestHealthDegradedWithoutRules(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	expect.GET("/healthz").Expect().Status(http.StatusOK).
		JSON().Object().Value("status").IsEqual("degraded")
}

func TestExplainReportsDiagnostics(t *testing.T) {
	bundle := config.Bundle{
		Rules:      []rules.Rule{testStagnantRule(t)},
		Warehouses: testWarehouses(),
		Sources:    []string{"rules/rules.yaml"},
		Skipped: []config.DefinitionSkip{
			{Kind: "warehouse", Name: "bad", Reason: "invalid template: num aisles must be positive"},
		},
	}
	svc := newTestService(t, bundle, engine.Options{})
	expect := newExpect(t, svc)

	explain := expect.GET("/explain").Expect().Status(http.StatusOK).JSON().Object()
	explain.Value("rules").Array().Value(0).IsEqual("stuck-receiving")
	explain.Value("warehouses").Array().Value(0).IsEqual("W1")
	explain.Value("sources").Array().Value(0).IsEqual("rules/rules.yaml")
	explain.Value("skippedDefinitions").Array().Length().IsEqual(1)
	engineInfo := explain.Value("engine").Object()
	engineInfo.Value("perRuleTimeoutMs").IsEqual(30000)
	engineInfo.Value("cacheBackend").IsEqual("memory")
}

func TestMetricsEndpoint(t *testing.T) {
	svc := newTestService(t, config.Bundle{}, engine.Options{})
	expect := newExpect(t, svc)

	body := expect.GET("/metrics").Expect().Status(http.StatusOK).Body()
	body.Contains("go_goroutines")
}

func TestUpdateBundleInvalidatesReportCache(t *testing.T) {
	bundle := config.Bundle{
		Rules:      []rules.Rule{testStagnantRule(t)},
		Warehouses: testWarehouses(),
	}
	svc := newTestService(t, bundle, engine.Options{Cache: cache.NewMemory(time.Minute)})
	expect := newExpect(t, svc)

	payload := map[string]any{
		"snapshot": []map[string]any{snapshotRow("P1", "RECV-01", 10)},
	}
	first := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().Status(http.StatusOK).JSON().Object()
	first.Value("fromCache").IsEqual(false)

	second := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().Status(http.StatusOK).JSON().Object()
	second.Value("fromCache").IsEqual(true)

	require.NoError(t, svc.UpdateBundle(context.Background(), bundle))

	third := expect.POST("/v1/evaluate").WithJSON(payload).
		Expect().Status(http.StatusOK).JSON().Object()
	third.Value("fromCache").IsEqual(false)
}

func TestNewServiceRequiresEngine(t *testing.T) {
	_, err := NewService(nil, nil, nil, Settings{})
	require.Error(t, err)
}
