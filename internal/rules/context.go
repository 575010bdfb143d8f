package rules

import (
	"strings"
	"time"

	"github.com/rackwatch/rackwatch/internal/expr"
	"github.com/rackwatch/rackwatch/internal/inventory"
	"github.com/rackwatch/rackwatch/internal/location"
	"github.com/rackwatch/rackwatch/internal/templates"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

// DefaultObviousMultiplier gates the obvious-violation overcapacity bypass:
// any location holding at least this many multiples of its capacity is
// reported regardless of other gating.
const DefaultObviousMultiplier = 2.0

// Params holds a rule's compiled cross-cutting parameters. Both are optional:
// a nil filter keeps every pallet, a nil note leaves the evaluator's default
// description in place.
type Params struct {
	Filter *expr.Program
	Note   *templates.Template
}

// Context is the read-only evaluation context shared with an evaluator: the
// resolved warehouse, its virtual engine (nil when no warehouse matched), the
// canonical location service, the evaluation clock, and the rule's compiled
// parameters.
type Context struct {
	Warehouse         warehouse.Context
	Engine            *warehouse.Engine
	Locations         *location.Service
	Now               time.Time
	ObviousMultiplier float64
	Params            Params
}

// HasEngine reports whether a warehouse universe is available. Evaluators
// that need validity, capacity or zone answers return zero anomalies without
// one; classification-only evaluators fall back to inherent types.
func (c *Context) HasEngine() bool { return c != nil && c.Engine != nil }

// Canonical normalizes a raw location code, through the shared cache when one
// is wired.
func (c *Context) Canonical(code string) location.Canonical {
	if c != nil && c.Locations != nil {
		return c.Locations.Canonical(code)
	}
	return location.Parse(code)
}

// Classify returns the location type the warehouse declares for a code, or
// its inherent parse-level type when no engine is available or the code is
// outside the universe.
func (c *Context) Classify(canon location.Canonical) location.Type {
	if c.HasEngine() {
		if v := c.Engine.Validate(canon); v.Status == warehouse.StatusValid {
			return v.Type
		}
	}
	return canon.InherentType()
}

// Keep applies the rule's optional CEL filter to one pallet. Filter
// evaluation errors exclude the pallet, mirroring how malformed rows are
// skipped rather than aborting the rule.
func (c *Context) Keep(p inventory.Pallet) bool {
	if c == nil || c.Params.Filter == nil {
		return true
	}
	ok, err := c.Params.Filter.EvalBool(c.Vars(p))
	if err != nil {
		return false
	}
	return ok
}

// Vars builds the activation shared by CEL filters and note templates: the
// pallet under inspection, its resolved location facts, and the evaluation
// clock.
func (c *Context) Vars(p inventory.Pallet) map[string]any {
	canon := c.Canonical(p.Location)
	loc := map[string]any{
		"code":  canon.String(),
		"type":  string(c.Classify(canon)),
		"zone":  "",
		"valid": false,
	}
	if c.HasEngine() {
		v := c.Engine.Validate(canon)
		loc["zone"] = v.Zone
		loc["valid"] = v.Status == warehouse.StatusValid
	}
	ageHours := 0.0
	if !p.CreationDate.IsZero() {
		ageHours = c.Now.Sub(p.CreationDate).Hours()
	}
	return map[string]any{
		"pallet": map[string]any{
			"id":          p.ID,
			"location":    p.Location,
			"description": p.Description,
			"receipt":     p.ReceiptNumber,
			"ageHours":    ageHours,
		},
		"location": loc,
		"now":      c.Now,
	}
}

// Note renders the rule's note template over the pallet activation, falling
// back to the evaluator's default description when no template is configured
// or rendering fails.
func (c *Context) Note(fallback string, p inventory.Pallet) string {
	if c == nil || c.Params.Note == nil {
		return fallback
	}
	out, err := c.Params.Note.Render(c.Vars(p))
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return out
}

// obviousMultiplier returns the configured bypass multiplier, defaulted.
func (c *Context) obviousMultiplier() float64 {
	if c == nil || c.ObviousMultiplier <= 1 {
		return DefaultObviousMultiplier
	}
	return c.ObviousMultiplier
}
