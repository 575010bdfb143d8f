package warehouse

import (
	"sort"
	"strings"

	"github.com/rackwatch/rackwatch/internal/location"
)

// Confidence grades how certain the resolver is about a warehouse match.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceLow      Confidence = "LOW"
	ConfidenceVeryLow  Confidence = "VERY_LOW"
	ConfidenceNone     Confidence = "NONE"
)

// ThresholdRule is one step of the confidence ladder: minimum coverage plus
// a minimum count of distinct valid locations backing it.
type ThresholdRule struct {
	MinCoverage float64 `json:"minCoverage" koanf:"mincoverage"`
	MinValid    int     `json:"minValid" koanf:"minvalid"`
}

// ConfidenceThresholds maps coverage scores onto confidence grades. The
// defaults grade a full match of a handful of locations as trustworthy while
// demanding more evidence the weaker the coverage.
type ConfidenceThresholds struct {
	VeryHigh ThresholdRule `json:"veryHigh" koanf:"veryhigh"`
	High     ThresholdRule `json:"high" koanf:"high"`
	Medium   ThresholdRule `json:"medium" koanf:"medium"`
	Low      ThresholdRule `json:"low" koanf:"low"`
}

// DefaultConfidenceThresholds returns the standard ladder.
func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{
		VeryHigh: ThresholdRule{MinCoverage: 0.80, MinValid: 4},
		High:     ThresholdRule{MinCoverage: 0.60, MinValid: 3},
		Medium:   ThresholdRule{MinCoverage: 0.30, MinValid: 2},
		Low:      ThresholdRule{MinCoverage: 0.15},
	}
}

func (t ConfidenceThresholds) grade(coverage float64, valid int) Confidence {
	switch {
	case coverage >= t.VeryHigh.MinCoverage && valid >= t.VeryHigh.MinValid:
		return ConfidenceVeryHigh
	case coverage >= t.High.MinCoverage && valid >= t.High.MinValid:
		return ConfidenceHigh
	case coverage >= t.Medium.MinCoverage && valid >= t.Medium.MinValid:
		return ConfidenceMedium
	case coverage >= t.Low.MinCoverage && valid >= t.Low.MinValid:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Candidate pairs a warehouse identifier with the template to score. An
// empty WarehouseID falls back to the template's own.
type Candidate struct {
	WarehouseID string   `json:"warehouseId,omitempty" koanf:"warehouseid"`
	Template    Template `json:"template" koanf:"template"`
}

func (c Candidate) id() string {
	if c.WarehouseID != "" {
		return c.WarehouseID
	}
	return c.Template.WarehouseID
}

// Context is the resolved warehouse for one evaluation: which warehouse, how
// sure, and on what evidence.
type Context struct {
	WarehouseID       string     `json:"warehouseId,omitempty"`
	Confidence        Confidence `json:"confidence"`
	Coverage          float64    `json:"coverage"`
	ValidCount        int        `json:"validCount"`
	DistinctLocations int        `json:"distinctLocations"`
	DetectionMethod   string     `json:"detectionMethod"`
}

// Resolver picks the candidate warehouse whose virtual universe best covers
// the locations observed in a snapshot. Coverage beats size: a small
// warehouse matching everything wins over a large one matching a few codes.
type Resolver struct {
	locations  *location.Service
	engines    *EngineCache
	thresholds ConfidenceThresholds
}

// NewResolver wires a resolver. Nil collaborators get private defaults; zero
// thresholds get the default ladder.
func NewResolver(locations *location.Service, engines *EngineCache, thresholds ConfidenceThresholds) *Resolver {
	if locations == nil {
		locations = location.NewService(0)
	}
	if engines == nil {
		engines = NewEngineCache(0)
	}
	if thresholds == (ConfidenceThresholds{}) {
		thresholds = DefaultConfidenceThresholds()
	}
	return &Resolver{locations: locations, engines: engines, thresholds: thresholds}
}

type score struct {
	id     string
	engine *Engine
	valid  int
}

// Resolve scores every candidate against the distinct location codes and
// returns the winning context plus its engine. Candidates whose templates do
// not validate are skipped. The hint breaks exact ties only; it never
// invents a match, and a snapshot no candidate covers at all resolves to
// NONE with a nil engine.
func (r *Resolver) Resolve(locs []string, candidates []Candidate, hint string) (Context, *Engine) {
	distinct := distinctCodes(locs)
	ctx := Context{
		Confidence:        ConfidenceNone,
		DetectionMethod:   "none",
		DistinctLocations: len(distinct),
	}
	if len(distinct) == 0 || len(candidates) == 0 {
		return ctx, nil
	}

	canonicals := make([]location.Canonical, 0, len(distinct))
	for _, code := range distinct {
		canonicals = append(canonicals, r.locations.Canonical(code))
	}

	scores := make([]score, 0, len(candidates))
	for _, cand := range candidates {
		template := cand.Template
		if cand.WarehouseID != "" {
			template.WarehouseID = cand.WarehouseID
		}
		engine, _, err := r.engines.Get(template)
		if err != nil {
			continue
		}
		valid := 0
		for _, c := range canonicals {
			if engine.Validate(c).Status == StatusValid {
				valid++
			}
		}
		scores = append(scores, score{id: cand.id(), engine: engine, valid: valid})
	}
	if len(scores) == 0 {
		return ctx, nil
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].valid != scores[j].valid {
			return scores[i].valid > scores[j].valid
		}
		return scores[i].id < scores[j].id
	})
	best := scores[0]
	method := "coverage"
	if hint != "" && best.valid > 0 {
		for _, s := range scores {
			if s.valid != best.valid {
				break
			}
			if s.id == hint {
				if s.id != best.id {
					best = s
				}
				method = "coverage+hint"
				break
			}
		}
	}
	if best.valid == 0 {
		return ctx, nil
	}

	coverage := float64(best.valid) / float64(len(distinct))
	return Context{
		WarehouseID:       best.id,
		Confidence:        r.thresholds.grade(coverage, best.valid),
		Coverage:          coverage,
		ValidCount:        best.valid,
		DistinctLocations: len(distinct),
		DetectionMethod:   method,
	}, best.engine
}

func distinctCodes(locs []string) []string {
	seen := make(map[string]struct{}, len(locs))
	distinct := make([]string, 0, len(locs))
	for _, code := range locs {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		distinct = append(distinct, trimmed)
	}
	return distinct
}
