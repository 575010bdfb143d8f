// Package location normalizes warehouse location codes to their canonical
// textual form and classifies them into storage slots and special areas.
// Inventory exports spell the same physical slot in several flavours
// (padded, compact, suffixed, tenant-prefixed); downstream components compare
// canonical forms only, so normalization happens exactly once, here.
package location

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind discriminates the canonical variants. Unparseable is a first-class
// outcome, not an error: callers decide per rule whether it matters.
type Kind uint8

const (
	// KindUnparseable marks codes no parser accepted; the original input is
	// preserved verbatim.
	KindUnparseable Kind = iota
	// KindStorage is a rack slot addressed as aisle-rack-position+level.
	KindStorage
	// KindSpecial is a named non-storage area such as RECV-01 or STAGING.
	KindSpecial
)

// Type is the operational class of a location, used by rule conditions.
type Type string

const (
	TypeStorage      Type = "STORAGE"
	TypeReceiving    Type = "RECEIVING"
	TypeStaging      Type = "STAGING"
	TypeDock         Type = "DOCK"
	TypeTransitional Type = "TRANSITIONAL"
	TypeUnknown      Type = "UNKNOWN"
)

// Canonical is the normalized form of a location code. It is a value type:
// two parseable codes naming the same slot compare equal regardless of how
// the input spelled them. The zero value is an unparseable empty code.
type Canonical struct {
	kind     Kind
	aisle    int
	rack     int
	position int
	level    byte
	special  string // canonical special code, e.g. "RECV-01" or "RECEIVING"
	raw      string // original input, kept for unparseable codes only
}

var (
	tenantPrefixes  = regexp.MustCompile(`^(?:USER_[A-Z0-9]+_|WH\d+_|DEFAULT_|WAREHOUSE_)`)
	numberedSpecial = regexp.MustCompile(`^(RECV|STAGE|DOCK|AISLE)-(\d{1,3})$`)
	standardForm    = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{1,3})([A-Z])$`)
	compactForm     = regexp.MustCompile(`^(\d{1,2})[A-Z](\d{1,2})([A-Z])$`)
	posLevelRack    = regexp.MustCompile(`^(\d{1,3})([A-Z])(\d{1,2})?$`)
	levelRackPos    = regexp.MustCompile(`^([A-Z])(\d{1,2})-(\d{1,3})$`)
)

// bareSpecials are accepted verbatim after prefix stripping.
var bareSpecials = map[string]struct{}{
	"RECEIVING": {},
	"STAGING":   {},
	"SHIPPING":  {},
	"DOCK":      {},
}

// Parse normalizes a raw location code. It never fails: inputs no parser
// accepts come back as an unparseable canonical carrying the original
// string. Parsers run in a fixed order, most specific first, and the first
// match wins.
func Parse(raw string) Canonical {
	code := stripPrefixes(strings.ToUpper(strings.TrimSpace(raw)))

	if _, ok := bareSpecials[code]; ok {
		return Canonical{kind: KindSpecial, special: code}
	}
	if c, ok := parseNumberedSpecial(code); ok {
		return c
	}
	if c, ok := parseStandard(code); ok {
		return c
	}
	if c, ok := parseCompact(code); ok {
		return c
	}
	if c, ok := parsePosLevelRack(code); ok {
		return c
	}
	if c, ok := parseLevelRackPos(code); ok {
		return c
	}
	return Canonical{kind: KindUnparseable, raw: raw}
}

// IsSpecial reports whether a raw code normalizes to a special area.
func IsSpecial(raw string) bool {
	return Parse(raw).kind == KindSpecial
}

// NewStorage builds a storage canonical from explicit coordinates.
func NewStorage(aisle, rack, position int, level byte) (Canonical, error) {
	if aisle < 1 || aisle > 99 {
		return Canonical{}, fmt.Errorf("location: aisle %d out of range 1..99", aisle)
	}
	if rack < 1 || rack > 99 {
		return Canonical{}, fmt.Errorf("location: rack %d out of range 1..99", rack)
	}
	if position < 1 || position > 999 {
		return Canonical{}, fmt.Errorf("location: position %d out of range 1..999", position)
	}
	if level < 'A' || level > 'Z' {
		return Canonical{}, fmt.Errorf("location: level %q outside A..Z", string(level))
	}
	return Canonical{kind: KindStorage, aisle: aisle, rack: rack, position: position, level: level}, nil
}

// NewSpecial parses a code and requires the result to be a special area.
func NewSpecial(code string) (Canonical, error) {
	c := Parse(code)
	if c.kind != KindSpecial {
		return Canonical{}, fmt.Errorf("location: %q is not a special area code", code)
	}
	return c, nil
}

// Kind returns the canonical variant tag.
func (c Canonical) Kind() Kind { return c.kind }

// IsStorage reports whether c addresses a rack slot.
func (c Canonical) IsStorage() bool { return c.kind == KindStorage }

// IsSpecial reports whether c names a special area.
func (c Canonical) IsSpecial() bool { return c.kind == KindSpecial }

// IsUnparseable reports whether no parser accepted the original code.
func (c Canonical) IsUnparseable() bool { return c.kind == KindUnparseable }

// Coordinates returns the storage address. Only meaningful when IsStorage.
func (c Canonical) Coordinates() (aisle, rack, position int, level byte) {
	return c.aisle, c.rack, c.position, c.level
}

// String renders the single canonical spelling: AA-RR-PPPL for storage, the
// canonical area code for specials, and the verbatim input for unparseable
// codes. Parse(c.String()) always yields c back.
func (c Canonical) String() string {
	switch c.kind {
	case KindStorage:
		return fmt.Sprintf("%02d-%02d-%03d%c", c.aisle, c.rack, c.position, c.level)
	case KindSpecial:
		return c.special
	default:
		return c.raw
	}
}

// InherentType classifies a canonical by its textual form alone, without a
// warehouse template: storage slots are STORAGE, special prefixes map to
// their operational class, unparseable codes are UNKNOWN. Templates may
// override this for declared areas via the virtual engine.
func (c Canonical) InherentType() Type {
	switch c.kind {
	case KindStorage:
		return TypeStorage
	case KindSpecial:
		prefix, _, _ := strings.Cut(c.special, "-")
		switch prefix {
		case "RECV", "RECEIVING":
			return TypeReceiving
		case "STAGE", "STAGING":
			return TypeStaging
		case "DOCK", "SHIPPING":
			return TypeDock
		case "AISLE":
			return TypeTransitional
		}
	}
	return TypeUnknown
}

func stripPrefixes(code string) string {
	for {
		stripped := tenantPrefixes.ReplaceAllString(code, "")
		if stripped == code {
			return code
		}
		code = stripped
	}
}

func parseNumberedSpecial(code string) (Canonical, bool) {
	m := numberedSpecial.FindStringSubmatch(code)
	if m == nil {
		return Canonical{}, false
	}
	n, _ := strconv.Atoi(m[2])
	if n == 0 {
		return Canonical{}, false
	}
	return Canonical{kind: KindSpecial, special: fmt.Sprintf("%s-%02d", m[1], n)}, true
}

func parseStandard(code string) (Canonical, bool) {
	m := standardForm.FindStringSubmatch(code)
	if m == nil {
		return Canonical{}, false
	}
	return storageFrom(m[1], m[2], m[3], m[4][0])
}

// parseCompact accepts aisle+level+position+level codes such as "01A10B".
// The first letter is decorative in observed exports; rack defaults to 1.
func parseCompact(code string) (Canonical, bool) {
	m := compactForm.FindStringSubmatch(code)
	if m == nil {
		return Canonical{}, false
	}
	return storageFrom(m[1], "1", m[2], m[3][0])
}

// parsePosLevelRack accepts position+level with an optional trailing rack
// ("010A", "010A05"). Aisle defaults to 1, and so does a missing rack. This
// also covers the short compact form "1A2" since its captures line up.
func parsePosLevelRack(code string) (Canonical, bool) {
	m := posLevelRack.FindStringSubmatch(code)
	if m == nil {
		return Canonical{}, false
	}
	rack := m[3]
	if rack == "" {
		rack = "1"
	}
	return storageFrom("1", rack, m[1], m[2][0])
}

// parseLevelRackPos accepts level+rack-position codes such as "A05-010".
func parseLevelRackPos(code string) (Canonical, bool) {
	m := levelRackPos.FindStringSubmatch(code)
	if m == nil {
		return Canonical{}, false
	}
	return storageFrom("1", m[2], m[3], m[1][0])
}

func storageFrom(aisle, rack, position string, level byte) (Canonical, bool) {
	a, _ := strconv.Atoi(aisle)
	r, _ := strconv.Atoi(rack)
	p, _ := strconv.Atoi(position)
	if a == 0 || r == 0 || p == 0 {
		return Canonical{}, false
	}
	return Canonical{kind: KindStorage, aisle: a, rack: r, position: p, level: level}, true
}
