// Package server exposes the evaluation engine over HTTP: one evaluate
// endpoint plus the health, explain and metrics surfaces, and the listener
// lifecycle that serves them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/rackwatch/rackwatch/internal/config"
	"github.com/rackwatch/rackwatch/internal/engine"
	"github.com/rackwatch/rackwatch/internal/metrics"
)

// Settings is the engine configuration snapshot reported by /explain.
type Settings struct {
	PerRuleTimeoutMs           int     `json:"perRuleTimeoutMs"`
	ParallelEvaluators         int     `json:"parallelEvaluators"`
	ObviousViolationMultiplier float64 `json:"obviousViolationMultiplier"`
	CacheBackend               string  `json:"cacheBackend"`
	CacheTTLSeconds            int     `json:"cacheTtlSeconds"`
}

// Service is the HTTP facade over the evaluation engine. It holds the
// server-loaded rule and warehouse bundle; evaluate requests that omit their
// own definitions fall back to it.
type Service struct {
	engine   *engine.Engine
	metrics  *metrics.Recorder
	logger   *slog.Logger
	settings Settings

	mu     sync.RWMutex
	bundle config.Bundle
}

// NewService wires the facade. The engine is required; everything else
// defaults.
func NewService(eng *engine.Engine, rec *metrics.Recorder, logger *slog.Logger, settings Settings) (*Service, error) {
	if eng == nil {
		return nil, errors.New("server: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   eng,
		metrics:  rec,
		logger:   logger.With(slog.String("component", "service")),
		settings: settings,
	}, nil
}

// UpdateBundle swaps the loaded definitions and drops every cached report and
// memoized warehouse engine, so the next evaluation sees only the new bundle.
func (s *Service) UpdateBundle(ctx context.Context, bundle config.Bundle) error {
	s.mu.Lock()
	s.bundle = bundle
	s.mu.Unlock()
	s.logger.Info("definitions reloaded",
		slog.Int("rules", len(bundle.Rules)),
		slog.Int("warehouses", len(bundle.Warehouses)),
		slog.Int("skipped", len(bundle.Skipped)),
	)
	return s.engine.InvalidateCache(ctx)
}

// Bundle returns the currently loaded definitions.
func (s *Service) Bundle() config.Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle
}

// Handler routes the public surface.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /explain", s.handleExplain)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}

	bundle := s.Bundle()
	if req.Rules == nil {
		req.Rules = bundle.Rules
	}
	if req.Warehouses == nil {
		req.Warehouses = bundle.Warehouses
	}

	report, err := s.engine.Evaluate(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, report)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	bundle := s.Bundle()
	cacheSize, err := s.engine.CacheSize(r.Context())
	if err != nil {
		s.logger.Error("cache size query failed", slog.Any("error", err))
		cacheSize = 0
	}

	health := "ok"
	if len(bundle.Skipped) > 0 || len(bundle.Rules) == 0 {
		health = "degraded"
	}
	status := map[string]any{
		"status":       health,
		"rules":        len(bundle.Rules),
		"warehouses":   len(bundle.Warehouses),
		"cacheEntries": cacheSize,
		"observedAt":   time.Now().UTC(),
	}
	if len(bundle.Sources) > 0 {
		status["sources"] = bundle.Sources
	}
	if len(bundle.Skipped) > 0 {
		status["skippedDefinitions"] = bundle.Skipped
	}
	s.writeJSON(w, status)
}

func (s *Service) handleExplain(w http.ResponseWriter, r *http.Request) {
	bundle := s.Bundle()
	cacheSize, err := s.engine.CacheSize(r.Context())
	if err != nil {
		s.logger.Error("cache size query failed", slog.Any("error", err))
		cacheSize = 0
	}

	ruleIDs := make([]string, 0, len(bundle.Rules))
	for _, rule := range bundle.Rules {
		ruleIDs = append(ruleIDs, rule.ID)
	}
	warehouseIDs := make([]string, 0, len(bundle.Warehouses))
	for _, candidate := range bundle.Warehouses {
		id := candidate.WarehouseID
		if id == "" {
			id = candidate.Template.WarehouseID
		}
		warehouseIDs = append(warehouseIDs, id)
	}

	payload := struct {
		ObservedAt         time.Time               `json:"observedAt"`
		CacheEntries       int64                   `json:"cacheEntries"`
		Rules              []string                `json:"rules"`
		Warehouses         []string                `json:"warehouses"`
		Sources            []string                `json:"sources,omitempty"`
		SkippedDefinitions []config.DefinitionSkip `json:"skippedDefinitions,omitempty"`
		Engine             Settings                `json:"engine"`
	}{
		ObservedAt:   time.Now().UTC(),
		CacheEntries: cacheSize,
		Rules:        ruleIDs,
		Warehouses:   warehouseIDs,
		Engine:       s.settings,
	}
	if len(bundle.Sources) > 0 {
		payload.Sources = bundle.Sources
	}
	if len(bundle.Skipped) > 0 {
		payload.SkippedDefinitions = bundle.Skipped
	}
	s.writeJSON(w, payload)
}

func (s *Service) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": message}); err != nil {
		s.logger.Error("error response encode failed", slog.Any("error", err))
	}
}
