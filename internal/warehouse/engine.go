package warehouse

import (
	"iter"
	"sort"

	"github.com/rackwatch/rackwatch/internal/location"
)

// Status tags the outcome of validating a canonical against a universe.
type Status uint8

const (
	// StatusUnparseable mirrors an unparseable canonical; no universe can
	// contain it.
	StatusUnparseable Status = iota
	// StatusNotInUniverse means the code parses but the template does not
	// declare or imply it.
	StatusNotInUniverse
	// StatusValid means the location exists in the warehouse.
	StatusValid
)

// Validation is the full answer for one location: where it stands, what it
// is, and what the template says about it. Zone, Capacity and
// AllowedProducts are only populated for valid locations.
type Validation struct {
	Status          Status
	Type            location.Type
	Zone            string
	Capacity        int
	AllowedProducts []string
}

// Engine answers validity, classification and capacity questions for one
// warehouse template in O(1), by comparing coordinates against the template
// dimensions instead of materializing the slot universe. A 12-aisle site
// with 12 racks of 100 positions on 4 levels implies ~58k slots; the engine
// stores none of them.
type Engine struct {
	template Template
	levels   string
	areas    map[string]SpecialArea
}

// NewEngine normalizes and validates a template and builds its engine.
func NewEngine(t Template) (*Engine, error) {
	t = t.Normalized()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	areas := make(map[string]SpecialArea, len(t.SpecialAreas))
	for _, area := range t.SpecialAreas {
		canonical, err := location.NewSpecial(area.Code)
		if err != nil {
			// Validate already rejected unparseable area codes.
			continue
		}
		area.Code = canonical.String()
		areas[area.Code] = area
	}
	return &Engine{
		template: t,
		levels:   t.LevelNames[:t.LevelsPerPosition],
		areas:    areas,
	}, nil
}

// WarehouseID returns the owning warehouse identifier.
func (e *Engine) WarehouseID() string { return e.template.WarehouseID }

// Template returns a copy of the normalized template the engine was built from.
func (e *Engine) Template() Template {
	t := e.template
	areas := make([]SpecialArea, len(t.SpecialAreas))
	copy(areas, t.SpecialAreas)
	t.SpecialAreas = areas
	return t
}

// Validate locates a canonical inside the universe. Storage codes are four
// integer comparisons plus a level-set test; special codes are a map lookup.
func (e *Engine) Validate(c location.Canonical) Validation {
	switch {
	case c.IsStorage():
		aisle, rack, position, level := c.Coordinates()
		if aisle > e.template.NumAisles || rack > e.template.RacksPerAisle ||
			position > e.template.PositionsPerRack || !e.levelExists(level) {
			return Validation{Status: StatusNotInUniverse, Type: location.TypeUnknown}
		}
		return Validation{
			Status:   StatusValid,
			Type:     location.TypeStorage,
			Zone:     e.template.StorageZone,
			Capacity: e.template.DefaultPalletCapacity,
		}
	case c.IsSpecial():
		area, declared := e.areas[c.String()]
		if !declared {
			return Validation{Status: StatusNotInUniverse, Type: location.TypeUnknown}
		}
		return Validation{
			Status:          StatusValid,
			Type:            area.Type.locationType(),
			Zone:            area.Zone,
			Capacity:        area.Capacity,
			AllowedProducts: area.AllowedProducts,
		}
	default:
		return Validation{Status: StatusUnparseable, Type: location.TypeUnknown}
	}
}

// Classify returns the location type within this universe, or UNKNOWN for
// anything the universe does not contain.
func (e *Engine) Classify(c location.Canonical) location.Type {
	return e.Validate(c).Type
}

// Capacity returns the pallet capacity of a valid location, zero otherwise.
func (e *Engine) Capacity(c location.Canonical) int {
	return e.Validate(c).Capacity
}

func (e *Engine) levelExists(level byte) bool {
	for i := 0; i < len(e.levels); i++ {
		if e.levels[i] == level {
			return true
		}
	}
	return false
}

// Summary describes the universe size without enumerating it.
type Summary struct {
	TotalPossible int `json:"totalPossible"`
	StorageCount  int `json:"storageCount"`
	SpecialCount  int `json:"specialCount"`
}

// Summary computes slot counts from the template dimensions.
func (e *Engine) Summary() Summary {
	storage := e.template.NumAisles * e.template.RacksPerAisle *
		e.template.PositionsPerRack * e.template.LevelsPerPosition
	return Summary{
		TotalPossible: storage + len(e.areas),
		StorageCount:  storage,
		SpecialCount:  len(e.areas),
	}
}

// Enumerate yields every canonical location in the universe, storage slots in
// aisle/rack/position/level order followed by special areas in code order.
// The sequence is lazy and restartable; it exists for diagnostics and must
// never be needed for validation.
func (e *Engine) Enumerate() iter.Seq[location.Canonical] {
	codes := make([]string, 0, len(e.areas))
	for code := range e.areas {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return func(yield func(location.Canonical) bool) {
		for aisle := 1; aisle <= e.template.NumAisles; aisle++ {
			for rack := 1; rack <= e.template.RacksPerAisle; rack++ {
				for position := 1; position <= e.template.PositionsPerRack; position++ {
					for i := 0; i < e.template.LevelsPerPosition; i++ {
						c, err := location.NewStorage(aisle, rack, position, e.levels[i])
						if err != nil {
							continue
						}
						if !yield(c) {
							return
						}
					}
				}
			}
		}
		for _, code := range codes {
			c, err := location.NewSpecial(code)
			if err != nil {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}
