package rules

// Anomaly is one finding emitted by one rule against one pallet, or against
// one location for area-level overcapacity. Evaluators fill the pallet,
// location and finding fields; the engine stamps rule provenance and the
// default severity afterwards. Anomalies are never mutated once returned.
type Anomaly struct {
	PalletID     string         `json:"palletId,omitempty"`
	LocationCode string         `json:"locationCode,omitempty"`
	RuleID       string         `json:"ruleId"`
	RuleName     string         `json:"ruleName,omitempty"`
	RuleType     RuleType       `json:"ruleType"`
	AnomalyType  string         `json:"anomalyType"`
	Severity     Severity       `json:"severity"`
	Description  string         `json:"description"`
	Details      map[string]any `json:"details,omitempty"`
}
