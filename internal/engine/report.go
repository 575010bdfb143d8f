package engine

import (
	"time"

	"github.com/rackwatch/rackwatch/internal/rules"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// RuleResult is the per-rule outcome line of a report: every active rule gets
// one, whether it ran, failed, timed out, or never compiled.
type RuleResult struct {
	RuleID       string         `json:"ruleId"`
	RuleName     string         `json:"ruleName,omitempty"`
	RuleType     rules.RuleType `json:"ruleType"`
	OK           bool           `json:"ok"`
	AnomalyCount int            `json:"anomalyCount"`
	DurationMs   float64        `json:"durationMs"`
	Err          string         `json:"error,omitempty"`
}

// Report is the full result of one snapshot evaluation. Anomalies are ordered
// by (rule order, snapshot row order); RuleResults mirror the dispatch order.
type Report struct {
	RunID       string            `json:"runId"`
	ObservedAt  time.Time         `json:"observedAt"`
	Warehouse   warehouse.Context `json:"warehouse"`
	Anomalies   []rules.Anomaly   `json:"anomalies"`
	RuleResults []RuleResult      `json:"ruleResults"`
	SkippedRows int               `json:"skippedRows"`
	Diagnostics []string          `json:"diagnostics,omitempty"`
	FromCache   bool              `json:"fromCache"`
}
