package rules

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// AnomalyProductIncompatibility tags pallets whose product is not on the
// allow list of the location holding them.
const AnomalyProductIncompatibility = "product_incompatibility"

type productLocationConditions struct {
	Pattern         string   `json:"pattern"`
	AllowedProducts []string `json:"allowedProducts"`
}

type productConditions struct {
	Locations []productLocationConditions `json:"locations"`
}

// productIncompatibility enforces location allow lists. A location's allow
// list comes from the rule's own location mappings first, then from the
// template's special-area declarations; locations declaring nothing accept
// everything.
type productIncompatibility struct{}

// NewProductIncompatibility returns the PRODUCT_INCOMPATIBILITY evaluator.
func NewProductIncompatibility() Evaluator { return productIncompatibility{} }

func (productIncompatibility) Type() RuleType { return TypeProductIncompatibility }

func (productIncompatibility) Validate(raw json.RawMessage) error {
	var cond productConditions
	if err := decodeConditions(raw, &cond); err != nil {
		return err
	}
	var errs error
	for i, mapping := range cond.Locations {
		if _, err := compileGlob(fmt.Sprintf("locations[%d].pattern", i), mapping.Pattern); err != nil {
			errs = multierr.Append(errs, err)
		}
		if len(mapping.AllowedProducts) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("rules: locations[%d].allowedProducts required", i))
			continue
		}
		if _, err := compileGlobs(fmt.Sprintf("locations[%d].allowedProducts", i), mapping.AllowedProducts); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

type compiledMapping struct {
	pattern  glob.Glob
	allowed  []glob.Glob
	declared []string
}

func (productIncompatibility) Evaluate(ctx context.Context, rule Rule, snapshot *inventory.Snapshot, eval *Context) ([]Anomaly, error) {
	var cond productConditions
	if err := decodeConditions(rule.Conditions, &cond); err != nil {
		return nil, err
	}
	mappings := make([]compiledMapping, 0, len(cond.Locations))
	for i, mapping := range cond.Locations {
		pattern, err := compileGlob(fmt.Sprintf("locations[%d].pattern", i), mapping.Pattern)
		if err != nil {
			return nil, err
		}
		allowed, err := compileGlobs(fmt.Sprintf("locations[%d].allowedProducts", i), mapping.AllowedProducts)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, compiledMapping{pattern: pattern, allowed: allowed, declared: mapping.AllowedProducts})
	}

	// Template allow lists compile lazily, once per distinct location.
	areaAllowed := make(map[string][]glob.Glob)
	areaDeclared := make(map[string][]string)

	var anomalies []Anomaly
	for i, p := range snapshot.Pallets() {
		if err := checkCancel(ctx, i); err != nil {
			return anomalies, err
		}
		if p.Description == "" || p.HasFault(inventory.FaultMissingLocation) {
			continue
		}
		canon := eval.Canonical(p.Location)
		code := canon.String()

		var allowed []glob.Glob
		var declared []string
		for _, m := range mappings {
			if m.pattern.Match(code) {
				allowed, declared = m.allowed, m.declared
				break
			}
		}
		if allowed == nil && eval.HasEngine() {
			cached, seen := areaAllowed[code]
			if !seen {
				if v := eval.Engine.Validate(canon); v.Status == warehouse.StatusValid && len(v.AllowedProducts) > 0 {
					compiled, err := compileGlobs("allowedProducts", v.AllowedProducts)
					if err == nil {
						cached = compiled
						areaDeclared[code] = v.AllowedProducts
					}
				}
				areaAllowed[code] = cached
			}
			allowed, declared = cached, areaDeclared[code]
		}
		if len(allowed) == 0 {
			continue
		}
		if matchAny(allowed, p.Description) {
			continue
		}
		if !eval.Keep(p) {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			PalletID:     p.ID,
			LocationCode: p.Location,
			AnomalyType:  AnomalyProductIncompatibility,
			Description: eval.Note(fmt.Sprintf("pallet %s (%s) does not match the allow list of %s",
				p.ID, p.Description, code), p),
			Details: map[string]any{
				"allowedProducts": declared,
				"description":     p.Description,
			},
		})
	}
	return anomalies, nil
}
