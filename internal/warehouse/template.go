// Package warehouse models warehouse layouts as compact templates and
// answers location-validity questions against the virtual universe they
// imply, without ever materializing one record per slot.
package warehouse

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/location"
)

// AreaType is the operational class of a declared special area.
type AreaType string

const (
	AreaReceiving    AreaType = "RECEIVING"
	AreaStaging      AreaType = "STAGING"
	AreaDock         AreaType = "DOCK"
	AreaTransitional AreaType = "TRANSITIONAL"
)

// locationType maps a declared area class onto the location taxonomy used by
// rule conditions.
func (a AreaType) locationType() location.Type {
	switch a {
	case AreaReceiving:
		return location.TypeReceiving
	case AreaStaging:
		return location.TypeStaging
	case AreaDock:
		return location.TypeDock
	case AreaTransitional:
		return location.TypeTransitional
	default:
		return location.TypeUnknown
	}
}

func validAreaType(a AreaType) bool {
	switch a {
	case AreaReceiving, AreaStaging, AreaDock, AreaTransitional:
		return true
	default:
		return false
	}
}

// SpecialArea declares one named non-storage location inside a template.
// AllowedProducts, when present, restricts what may sit in the area; the
// product-incompatibility rule enforces it against pallet descriptions.
type SpecialArea struct {
	Code            string   `json:"code" koanf:"code"`
	Type            AreaType `json:"type" koanf:"type"`
	Capacity        int      `json:"capacity" koanf:"capacity"`
	Zone            string   `json:"zone" koanf:"zone"`
	AllowedProducts []string `json:"allowedProducts,omitempty" koanf:"allowedproducts"`
}

// Template is the compact description of a warehouse layout. The storage
// universe is the cross product of its dimensions; special areas are listed
// explicitly. Templates are immutable for the duration of an evaluation.
type Template struct {
	WarehouseID           string        `json:"warehouseId" koanf:"warehouseid"`
	NumAisles             int           `json:"numAisles" koanf:"numaisles"`
	RacksPerAisle         int           `json:"racksPerAisle" koanf:"racksperaisle"`
	PositionsPerRack      int           `json:"positionsPerRack" koanf:"positionsperrack"`
	LevelsPerPosition     int           `json:"levelsPerPosition" koanf:"levelsperposition"`
	LevelNames            string        `json:"levelNames,omitempty" koanf:"levelnames"`
	DefaultPalletCapacity int           `json:"defaultPalletCapacity" koanf:"defaultpalletcapacity"`
	StorageZone           string        `json:"storageZone,omitempty" koanf:"storagezone"`
	SpecialAreas          []SpecialArea `json:"specialAreas,omitempty" koanf:"specialareas"`
}

const (
	defaultLevelAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// DefaultStorageZone is assumed for storage slots when the template does
	// not zone them explicitly.
	DefaultStorageZone = "AMBIENT"
)

// Normalized fills the optional template fields: level names from the
// alphabet, the ambient storage zone, a pallet capacity of one, and area
// capacities inherited from the storage default. Validate expects a
// normalized template.
func (t Template) Normalized() Template {
	if t.LevelNames == "" && t.LevelsPerPosition >= 1 && t.LevelsPerPosition <= len(defaultLevelAlphabet) {
		t.LevelNames = defaultLevelAlphabet[:t.LevelsPerPosition]
	}
	if t.StorageZone == "" {
		t.StorageZone = DefaultStorageZone
	}
	if t.DefaultPalletCapacity == 0 {
		t.DefaultPalletCapacity = 1
	}
	areas := make([]SpecialArea, len(t.SpecialAreas))
	copy(areas, t.SpecialAreas)
	for i := range areas {
		if areas[i].Capacity == 0 {
			areas[i].Capacity = t.DefaultPalletCapacity
		}
	}
	t.SpecialAreas = areas
	return t
}

// Validate checks template invariants. All findings are aggregated so a bad
// document reports every problem at once.
func (t Template) Validate() error {
	var errs error
	if strings.TrimSpace(t.WarehouseID) == "" {
		errs = multierr.Append(errs, fmt.Errorf("warehouse: template missing warehouseId"))
	}
	errs = multierr.Append(errs, dimensionInRange("numAisles", t.NumAisles, 99))
	errs = multierr.Append(errs, dimensionInRange("racksPerAisle", t.RacksPerAisle, 99))
	errs = multierr.Append(errs, dimensionInRange("positionsPerRack", t.PositionsPerRack, 999))
	errs = multierr.Append(errs, dimensionInRange("levelsPerPosition", t.LevelsPerPosition, len(defaultLevelAlphabet)))
	if t.LevelsPerPosition > len(t.LevelNames) {
		errs = multierr.Append(errs, fmt.Errorf("warehouse: levelNames %q shorter than levelsPerPosition %d", t.LevelNames, t.LevelsPerPosition))
	}
	for _, r := range t.LevelNames {
		if r < 'A' || r > 'Z' {
			errs = multierr.Append(errs, fmt.Errorf("warehouse: levelNames %q contains %q outside A..Z", t.LevelNames, string(r)))
			break
		}
	}
	if t.DefaultPalletCapacity < 1 {
		errs = multierr.Append(errs, fmt.Errorf("warehouse: defaultPalletCapacity %d below 1", t.DefaultPalletCapacity))
	}
	seen := make(map[string]string, len(t.SpecialAreas))
	for _, area := range t.SpecialAreas {
		canonical, err := location.NewSpecial(area.Code)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("warehouse: special area %q is not a recognizable special code", area.Code))
			continue
		}
		code := canonical.String()
		if prior, dup := seen[code]; dup {
			errs = multierr.Append(errs, fmt.Errorf("warehouse: special areas %q and %q collide on canonical code %s", prior, area.Code, code))
		} else {
			seen[code] = area.Code
		}
		if !validAreaType(area.Type) {
			errs = multierr.Append(errs, fmt.Errorf("warehouse: special area %q has unknown type %q", area.Code, area.Type))
		}
		if area.Capacity < 1 {
			errs = multierr.Append(errs, fmt.Errorf("warehouse: special area %q capacity %d below 1", area.Code, area.Capacity))
		}
	}
	return errs
}

func dimensionInRange(name string, value, upper int) error {
	if value < 1 || value > upper {
		return fmt.Errorf("warehouse: %s %d outside 1..%d", name, value, upper)
	}
	return nil
}
