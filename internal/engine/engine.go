// Package engine orchestrates one snapshot evaluation: normalize the rows,
// resolve the warehouse, fan the active rules out across evaluators, and fold
// their findings into a single ordered report. Rule failures stay scoped to
// their rule; only snapshot-level faults abort an evaluation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rackwatch/rackwatch/internal/engine/cache"
	"github.com/rackwatch/rackwatch/internal/expr"
	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/location"
	"github.com/rackwatch/rackwatch/internal/metrics"
	"github.com/rackwatch/rackwatch/internal/rules"
	"github.com/rackwatch/rackwatch/internal/templates"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

const (
	// DefaultPerRuleTimeout bounds a single evaluator run.
	DefaultPerRuleTimeout = 30 * time.Second
	// DefaultCacheTTL bounds how long a cached report may be served.
	DefaultCacheTTL       = 5 * time.Minute
	defaultCacheNamespace = "rackwatch:report:v1"
)

// Options wires an Engine. Zero values get defaults; only the CEL environment
// can fail to build.
type Options struct {
	Registry   *rules.Registry
	Locations  *location.Service
	Engines    *warehouse.EngineCache
	Confidence warehouse.ConfidenceThresholds

	PerRuleTimeout             time.Duration
	Parallelism                int
	ObviousViolationMultiplier float64

	Logger  *slog.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time

	Cache          cache.ReportCache
	CacheBackend   string
	CacheTTL       time.Duration
	CacheNamespace string
	CacheEpoch     int
	CacheKeySalt   string
}

// Engine evaluates inventory snapshots against rule and warehouse bundles.
// It is safe for concurrent use; all per-evaluation state lives on the stack.
type Engine struct {
	registry  *rules.Registry
	locations *location.Service
	engines   *warehouse.EngineCache
	resolver  *warehouse.Resolver

	env      *expr.Environment
	renderer *templates.Renderer

	perRuleTimeout time.Duration
	parallelism    int
	obviousMult    float64

	logger  *slog.Logger
	metrics *metrics.Recorder
	clock   func() time.Time

	cache          cache.ReportCache
	cacheName      string
	cacheTTL       time.Duration
	cacheNamespace string
	cacheEpoch     int
	cacheSalt      string
}

// New builds an engine from options.
func New(opts Options) (*Engine, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = rules.NewDefaultRegistry()
	}
	locations := opts.Locations
	if locations == nil {
		locations = location.NewService(0)
	}
	engines := opts.Engines
	if engines == nil {
		engines = warehouse.NewEngineCache(0)
	}

	timeout := opts.PerRuleTimeout
	if timeout <= 0 {
		timeout = DefaultPerRuleTimeout
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	namespace := opts.CacheNamespace
	if namespace == "" {
		namespace = defaultCacheNamespace
	}
	epoch := opts.CacheEpoch
	if epoch <= 0 {
		epoch = 1
	}
	cacheName := opts.CacheBackend
	if cacheName == "" {
		cacheName = "memory"
	}

	return &Engine{
		registry:       registry,
		locations:      locations,
		engines:        engines,
		resolver:       warehouse.NewResolver(locations, engines, opts.Confidence),
		env:            env,
		renderer:       templates.NewRenderer(),
		perRuleTimeout: timeout,
		parallelism:    parallelism,
		obviousMult:    opts.ObviousViolationMultiplier,
		logger:         logger.With(slog.String("component", "engine")),
		metrics:        opts.Metrics,
		clock:          clock,
		cache:          opts.Cache,
		cacheName:      cacheName,
		cacheTTL:       ttl,
		cacheNamespace: namespace,
		cacheEpoch:     epoch,
		cacheSalt:      opts.CacheKeySalt,
	}, nil
}

// Close releases the report cache, if any.
func (e *Engine) Close(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close(ctx)
}

// CachePrefix returns the report cache key prefix for the current epoch.
func (e *Engine) CachePrefix() string {
	return cache.Prefix(e.cacheNamespace, e.cacheEpoch)
}

// InvalidateCache drops the current epoch's cached reports and every memoized
// warehouse engine. Called on configuration reloads.
func (e *Engine) InvalidateCache(ctx context.Context) error {
	e.engines.Flush()
	if e.cache == nil {
		return nil
	}
	return e.cache.DeletePrefix(ctx, e.CachePrefix())
}

// CacheSize reports the number of cached reports; zero when no cache is wired.
func (e *Engine) CacheSize(ctx context.Context) (int64, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.Size(ctx)
}

// Request is one evaluation input: raw snapshot rows plus the rule and
// warehouse bundles to judge them by. The hint only breaks resolver ties.
type Request struct {
	Rows               []map[string]any      `json:"snapshot"`
	Rules              []rules.Rule          `json:"rules"`
	Warehouses         []warehouse.Candidate `json:"warehouses"`
	PreferredWarehouse string                `json:"preferredWarehouse,omitempty"`
}

// job is one active rule prepared for dispatch. A non-nil compileErr means
// the rule is reported as unparseable and never run.
type job struct {
	rule       rules.Rule
	evaluator  rules.Evaluator
	params     rules.Params
	compileErr error
}

type ruleOutcome struct {
	anomalies []rules.Anomaly
	err       error
	duration  time.Duration
}

// Evaluate runs the full pipeline for one request. It returns an error only
// for snapshot-level faults; everything rule-level degrades into the report.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Report, error) {
	wall := time.Now()
	now := e.clock()

	snapshot, err := inventory.Normalize(req.Rows)
	if err != nil {
		e.metrics.ObserveEvaluation("invalid_snapshot", false, time.Since(wall))
		return nil, err
	}

	cacheKey := e.requestKey(req)
	if cached := e.lookupReport(ctx, cacheKey); cached != nil {
		e.metrics.ObserveEvaluation("ok", true, time.Since(wall))
		return cached, nil
	}

	whCtx, whEngine := e.resolver.Resolve(snapshot.DistinctLocations(), req.Warehouses, req.PreferredWarehouse)

	report := &Report{
		RunID:       uuid.NewString(),
		ObservedAt:  now,
		Warehouse:   whCtx,
		Anomalies:   make([]rules.Anomaly, 0),
		SkippedRows: snapshot.SkippedRows(),
	}
	if whCtx.Confidence == warehouse.ConfidenceNone && len(req.Warehouses) > 0 {
		diag := &NoWarehouseMatchedError{DistinctLocations: whCtx.DistinctLocations}
		report.Diagnostics = append(report.Diagnostics, diag.Error())
	}

	base := rules.Context{
		Warehouse:         whCtx,
		Engine:            whEngine,
		Locations:         e.locations,
		Now:               now,
		ObviousMultiplier: e.obviousMult,
	}

	jobs := e.prepare(rules.ActiveInOrder(req.Rules))
	outcomes := e.dispatch(ctx, jobs, snapshot, base)
	report.RuleResults = make([]RuleResult, 0, len(jobs))
	for i, j := range jobs {
		report.fold(j, outcomes[i], e.metrics, e.logger)
	}

	e.storeReport(ctx, cacheKey, report)

	outcome := "ok"
	for _, res := range report.RuleResults {
		if !res.OK {
			outcome = "degraded"
			break
		}
	}
	duration := time.Since(wall)
	e.metrics.ObserveEvaluation(outcome, false, duration)
	e.logger.LogAttrs(ctx, slog.LevelInfo, "snapshot evaluated",
		slog.String("run_id", report.RunID),
		slog.String("warehouse", whCtx.WarehouseID),
		slog.String("confidence", string(whCtx.Confidence)),
		slog.Int("rows", snapshot.Len()),
		slog.Int("rules", len(jobs)),
		slog.Int("anomalies", len(report.Anomalies)),
		slog.Duration("duration", duration),
	)
	return report, nil
}

// prepare compiles each active rule's conditions and parameters. Rules whose
// evaluator is missing or whose inputs fail to compile carry their
// UnparseableRuleError into dispatch, where they are skipped.
func (e *Engine) prepare(active []rules.Rule) []job {
	jobs := make([]job, 0, len(active))
	for _, r := range active {
		j := job{rule: r}
		evaluator, ok := e.registry.Lookup(r.Type)
		if !ok {
			j.compileErr = &UnparseableRuleError{RuleID: r.ID, Reason: fmt.Sprintf("unknown rule type %q", r.Type)}
			jobs = append(jobs, j)
			continue
		}
		j.evaluator = evaluator
		if err := evaluator.Validate(r.Conditions); err != nil {
			j.compileErr = &UnparseableRuleError{RuleID: r.ID, Reason: err.Error()}
			jobs = append(jobs, j)
			continue
		}
		params, err := e.compileParams(r)
		if err != nil {
			j.compileErr = &UnparseableRuleError{RuleID: r.ID, Reason: err.Error()}
			jobs = append(jobs, j)
			continue
		}
		j.params = params
		jobs = append(jobs, j)
	}
	return jobs
}

func (e *Engine) compileParams(r rules.Rule) (rules.Params, error) {
	var params rules.Params
	if len(r.Parameters) == 0 {
		return params, nil
	}
	var raw struct {
		Filter       string `json:"filter"`
		NoteTemplate string `json:"noteTemplate"`
	}
	if err := json.Unmarshal(r.Parameters, &raw); err != nil {
		return params, fmt.Errorf("decode parameters: %w", err)
	}
	if strings.TrimSpace(raw.Filter) != "" {
		program, err := e.env.Compile(raw.Filter)
		if err != nil {
			return params, err
		}
		params.Filter = &program
	}
	note, err := e.renderer.CompileInline(r.ID+":note", raw.NoteTemplate)
	if err != nil {
		return params, err
	}
	params.Note = note
	return params, nil
}

// dispatch fans the runnable jobs out under a worker limit. Workers never
// return errors into the group: a failing rule must not cancel its siblings.
func (e *Engine) dispatch(ctx context.Context, jobs []job, snapshot *inventory.Snapshot, base rules.Context) []ruleOutcome {
	outcomes := make([]ruleOutcome, len(jobs))
	var group errgroup.Group
	group.SetLimit(e.parallelism)
	for i := range jobs {
		if jobs[i].compileErr != nil {
			continue
		}
		group.Go(func() error {
			outcomes[i] = e.runRule(ctx, jobs[i], snapshot, base)
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// runRule executes one evaluator under the per-rule deadline. The evaluator
// runs in its own goroutine sending into a buffered channel, so a deadline
// abandons it without blocking it; evaluators notice the cancelled context on
// their next row-interval check and exit.
func (e *Engine) runRule(ctx context.Context, j job, snapshot *inventory.Snapshot, base rules.Context) ruleOutcome {
	evalCtx := base
	evalCtx.Params = j.params

	rctx, cancel := context.WithTimeout(ctx, e.perRuleTimeout)
	defer cancel()

	wall := time.Now()
	done := make(chan ruleOutcome, 1)
	go func() {
		anomalies, err := j.evaluator.Evaluate(rctx, j.rule, snapshot, &evalCtx)
		done <- ruleOutcome{anomalies: anomalies, err: err, duration: time.Since(wall)}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			out.anomalies = nil
			switch {
			case errors.Is(out.err, context.DeadlineExceeded):
				out.err = &EvaluatorTimeoutError{RuleID: j.rule.ID, Timeout: e.perRuleTimeout}
			case errors.Is(out.err, context.Canceled):
			default:
				out.err = &EvaluatorFailureError{RuleID: j.rule.ID, Err: out.err}
			}
		}
		return out
	case <-rctx.Done():
		if ctx.Err() != nil {
			return ruleOutcome{err: ctx.Err(), duration: time.Since(wall)}
		}
		return ruleOutcome{err: &EvaluatorTimeoutError{RuleID: j.rule.ID, Timeout: e.perRuleTimeout}, duration: time.Since(wall)}
	}
}

// fold merges one rule's outcome into the report: stamp provenance and the
// default severity onto its anomalies, append them in rule order, and record
// the per-rule result line.
func (r *Report) fold(j job, out ruleOutcome, rec *metrics.Recorder, logger *slog.Logger) {
	res := RuleResult{
		RuleID:   j.rule.ID,
		RuleName: j.rule.Name,
		RuleType: j.rule.Type,
	}
	switch {
	case j.compileErr != nil:
		res.Err = j.compileErr.Error()
		rec.ObserveRule(string(j.rule.Type), "unparseable", 0)
		logger.Warn("rule skipped", slog.String("rule", j.rule.ID), slog.String("reason", res.Err))
	case out.err != nil:
		res.Err = out.err.Error()
		res.DurationMs = float64(out.duration) / float64(time.Millisecond)
		result := "error"
		var timeout *EvaluatorTimeoutError
		if errors.As(out.err, &timeout) {
			result = "timeout"
		} else if errors.Is(out.err, context.Canceled) {
			result = "canceled"
		}
		rec.ObserveRule(string(j.rule.Type), result, out.duration)
		logger.Warn("rule failed", slog.String("rule", j.rule.ID), slog.String("error", res.Err))
	default:
		res.OK = true
		res.DurationMs = float64(out.duration) / float64(time.Millisecond)
		res.AnomalyCount = len(out.anomalies)
		bySeverity := make(map[rules.Severity]int, 2)
		for _, a := range out.anomalies {
			a.RuleID = j.rule.ID
			a.RuleName = j.rule.Name
			a.RuleType = j.rule.Type
			if !a.Severity.Known() {
				a.Severity = j.rule.Severity
			}
			bySeverity[a.Severity]++
			r.Anomalies = append(r.Anomalies, a)
		}
		rec.ObserveRule(string(j.rule.Type), "ok", out.duration)
		for severity, count := range bySeverity {
			rec.ObserveAnomalies(string(j.rule.Type), string(severity), count)
		}
	}
	r.RuleResults = append(r.RuleResults, res)
}

// requestKey digests the request for the report cache; empty when no cache is
// wired or the material will not hash.
func (e *Engine) requestKey(req Request) string {
	if e.cache == nil {
		return ""
	}
	key, err := cache.Key(e.cacheNamespace, e.cacheEpoch, e.cacheSalt, req)
	if err != nil {
		e.logger.Warn("report cache key", slog.String("error", err.Error()))
		return ""
	}
	return key
}

func (e *Engine) lookupReport(ctx context.Context, key string) *Report {
	if e.cache == nil || key == "" {
		return nil
	}
	started := time.Now()
	entry, ok, err := e.cache.Lookup(ctx, key)
	switch {
	case err != nil:
		e.metrics.ObserveCacheLookup(e.cacheName, metrics.CacheLookupError, time.Since(started))
		e.logger.Warn("report cache lookup", slog.String("error", err.Error()))
		return nil
	case !ok:
		e.metrics.ObserveCacheLookup(e.cacheName, metrics.CacheLookupMiss, time.Since(started))
		return nil
	}
	var report Report
	if err := json.Unmarshal(entry.Payload, &report); err != nil {
		e.metrics.ObserveCacheLookup(e.cacheName, metrics.CacheLookupError, time.Since(started))
		e.logger.Warn("report cache payload", slog.String("error", err.Error()))
		return nil
	}
	e.metrics.ObserveCacheLookup(e.cacheName, metrics.CacheLookupHit, time.Since(started))
	report.FromCache = true
	return &report
}

func (e *Engine) storeReport(ctx context.Context, key string, report *Report) {
	if e.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		e.logger.Warn("report cache marshal", slog.String("error", err.Error()))
		return
	}
	started := time.Now()
	entry := cache.Entry{Payload: payload, StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(e.cacheTTL)
	if err := e.cache.Store(ctx, key, entry); err != nil {
		e.metrics.ObserveCacheStore(e.cacheName, metrics.CacheStoreError, time.Since(started))
		e.logger.Warn("report cache store", slog.String("error", err.Error()))
		return
	}
	e.metrics.ObserveCacheStore(e.cacheName, metrics.CacheStoreStored, time.Since(started))
}
