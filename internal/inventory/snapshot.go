// Package inventory turns raw tabular snapshot rows into typed pallet
// records. Column headers vary per export flavour; a fixed alias table maps
// them onto the canonical pallet fields, and rows with unusable critical
// values are kept but flagged so the data-integrity rule can report them.
package inventory

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Fault flags mark per-row problems found during normalization. Flagged rows
// stay in the snapshot: evaluators decide individually whether a fault
// disqualifies a row.
type Fault uint8

const (
	// FaultMissingID marks rows whose pallet id cell is empty.
	FaultMissingID Fault = 1 << iota
	// FaultBadTimestamp marks rows whose creation date is present but does
	// not parse under any accepted layout.
	FaultBadTimestamp
	// FaultMissingLocation marks rows with an empty, NULL or NAN location.
	FaultMissingLocation
)

// Pallet is one normalized inventory row.
type Pallet struct {
	ID            string
	Location      string
	CreationDate  time.Time
	ReceiptNumber string
	Description   string
	Extra         map[string]any
	Row           int
	Faults        Fault
}

// HasFault reports whether any of the given fault flags is set.
func (p Pallet) HasFault(f Fault) bool { return p.Faults&f != 0 }

// Age returns how long the pallet has been sitting as of now; zero when the
// creation date is unknown.
func (p Pallet) Age(now time.Time) time.Duration {
	if p.CreationDate.IsZero() {
		return 0
	}
	return now.Sub(p.CreationDate)
}

// Snapshot is the normalized, read-only inventory shared by all evaluators.
type Snapshot struct {
	pallets []Pallet
	columns map[string]string
	skipped int
}

// canonical column names.
const (
	colPalletID     = "palletId"
	colLocation     = "location"
	colCreationDate = "creationDate"
	colReceipt      = "receiptNumber"
	colDescription  = "description"
)

// columnAliases maps folded header spellings onto canonical column names.
// Folding lowercases and strips separators, so "Pallet ID", "PalletID" and
// "pallet_id" all land on the same alias entry.
var columnAliases = map[string]string{
	"palletid":           colPalletID,
	"pallet":             colPalletID,
	"lpn":                colPalletID,
	"location":           colLocation,
	"locationcode":       colLocation,
	"loc":                colLocation,
	"creationdate":       colCreationDate,
	"createdat":          colCreationDate,
	"created":            colCreationDate,
	"creationtime":       colCreationDate,
	"receiptnumber":      colReceipt,
	"receipt":            colReceipt,
	"lot":                colReceipt,
	"lotnumber":          colReceipt,
	"description":        colDescription,
	"desc":               colDescription,
	"product":            colDescription,
	"productdescription": colDescription,
}

// timestampLayouts are the only accepted creation-date encodings. Anything
// fancier is an export bug to surface, not a format to guess at.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize maps raw rows onto pallets. It fails only on snapshot-level
// faults: an empty snapshot or one whose headers resolve to neither a pallet
// id nor a location column. Everything row-level degrades to fault flags.
func Normalize(rows []map[string]any) (*Snapshot, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("inventory: snapshot has no rows")
	}
	columns := resolveColumns(rows)
	if _, ok := columns[colPalletID]; !ok {
		return nil, fmt.Errorf("inventory: no column resolves to palletId")
	}
	if _, ok := columns[colLocation]; !ok {
		return nil, fmt.Errorf("inventory: no column resolves to location")
	}

	snapshot := &Snapshot{
		pallets: make([]Pallet, 0, len(rows)),
		columns: columns,
	}
	for i, row := range rows {
		pallet := normalizeRow(row, columns, i)
		if pallet.Faults != 0 {
			snapshot.skipped++
		}
		snapshot.pallets = append(snapshot.pallets, pallet)
	}
	return snapshot, nil
}

// NewSnapshot wraps already-typed pallets, recomputing the fault tally. Row
// indexes are assigned in slice order when unset.
func NewSnapshot(pallets []Pallet) *Snapshot {
	snapshot := &Snapshot{pallets: make([]Pallet, len(pallets))}
	copy(snapshot.pallets, pallets)
	for i := range snapshot.pallets {
		if snapshot.pallets[i].Row == 0 {
			snapshot.pallets[i].Row = i
		}
		if snapshot.pallets[i].Faults != 0 {
			snapshot.skipped++
		}
	}
	return snapshot
}

// Pallets returns the shared row slice. Evaluators must treat it as
// read-only; it is handed to all of them concurrently.
func (s *Snapshot) Pallets() []Pallet { return s.pallets }

// Len reports the number of rows.
func (s *Snapshot) Len() int { return len(s.pallets) }

// SkippedRows reports how many rows carry at least one fault flag.
func (s *Snapshot) SkippedRows() int { return s.skipped }

// Columns reports which raw header resolved to each canonical column.
func (s *Snapshot) Columns() map[string]string {
	out := make(map[string]string, len(s.columns))
	for k, v := range s.columns {
		out[k] = v
	}
	return out
}

// DistinctLocations returns the distinct non-empty location codes in
// first-seen row order. Codes flagged as missing (NULL/NAN) are excluded;
// unparseable junk is not, since it still counts against coverage.
func (s *Snapshot) DistinctLocations() []string {
	seen := make(map[string]struct{}, len(s.pallets))
	distinct := make([]string, 0, len(s.pallets))
	for _, p := range s.pallets {
		if p.Location == "" || p.HasFault(FaultMissingLocation) {
			continue
		}
		if _, dup := seen[p.Location]; dup {
			continue
		}
		seen[p.Location] = struct{}{}
		distinct = append(distinct, p.Location)
	}
	return distinct
}

func normalizeRow(row map[string]any, columns map[string]string, index int) Pallet {
	pallet := Pallet{Row: index}

	pallet.ID = cellString(row, columns, colPalletID)
	if pallet.ID == "" {
		pallet.Faults |= FaultMissingID
	}
	pallet.Location = cellString(row, columns, colLocation)
	if missingLocation(pallet.Location) {
		pallet.Faults |= FaultMissingLocation
	}
	pallet.ReceiptNumber = cellString(row, columns, colReceipt)
	pallet.Description = cellString(row, columns, colDescription)

	if rawKey, ok := columns[colCreationDate]; ok {
		raw := row[rawKey]
		if text := asString(raw); text != "" {
			when, err := parseTimestamp(raw)
			if err != nil {
				pallet.Faults |= FaultBadTimestamp
			} else {
				pallet.CreationDate = when
			}
		}
	}

	mapped := make(map[string]struct{}, len(columns))
	for _, rawKey := range columns {
		mapped[rawKey] = struct{}{}
	}
	for key, value := range row {
		if _, ok := mapped[key]; ok {
			continue
		}
		if pallet.Extra == nil {
			pallet.Extra = make(map[string]any)
		}
		pallet.Extra[key] = value
	}
	return pallet
}

// resolveColumns scans the header union across all rows and maps canonical
// column names to the raw header that will supply them. The first matching
// header in row order wins; later contenders stay in Extra.
func resolveColumns(rows []map[string]any) map[string]string {
	columns := make(map[string]string, 5)
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for key := range row {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			canonical, ok := columnAliases[foldKey(key)]
			if !ok {
				continue
			}
			if _, taken := columns[canonical]; !taken {
				columns[canonical] = key
			}
		}
	}
	return columns
}

func foldKey(key string) string {
	folded := strings.ToLower(strings.TrimSpace(key))
	folded = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(folded)
	return folded
}

func missingLocation(code string) bool {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "", "NAN", "NULL":
		return true
	default:
		return false
	}
}

func cellString(row map[string]any, columns map[string]string, canonical string) string {
	rawKey, ok := columns[canonical]
	if !ok {
		return ""
	}
	return asString(row[rawKey])
}

// asString coerces the cell encodings JSON and spreadsheet ingests produce.
// Numeric ids arrive as float64 from JSON decoding; integral values must not
// grow a ".0" suffix.
func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

func parseTimestamp(value any) (time.Time, error) {
	if when, ok := value.(time.Time); ok {
		return when, nil
	}
	text := asString(value)
	for _, layout := range timestampLayouts {
		if when, err := time.Parse(layout, text); err == nil {
			return when, nil
		}
	}
	return time.Time{}, fmt.Errorf("inventory: timestamp %q matches no accepted layout", text)
}
