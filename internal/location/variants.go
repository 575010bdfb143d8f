package location

import "fmt"

// MaxSearchVariants bounds SearchVariants output. The rewrites below are the
// only alternate spellings observed in real exports; anything broader belongs
// in Parse, not in variant generation.
const MaxSearchVariants = 5

// SearchVariants returns the canonical spelling of c plus the alternate
// spellings exports are known to use for the same slot: two-digit position,
// unpadded coordinates, the compact form, and a "_1" slot suffix. The result
// is deduplicated, preserves that order, and never exceeds MaxSearchVariants
// entries. Unparseable codes yield just the original string.
func SearchVariants(c Canonical) []string {
	switch c.kind {
	case KindStorage:
		variants := make([]string, 0, MaxSearchVariants)
		canonical := c.String()
		variants = append(variants, canonical)
		if c.position < 100 {
			variants = append(variants, fmt.Sprintf("%02d-%02d-%02d%c", c.aisle, c.rack, c.position, c.level))
		}
		variants = append(variants, fmt.Sprintf("%d-%d-%d%c", c.aisle, c.rack, c.position, c.level))
		if c.rack == 1 && c.position < 100 {
			variants = append(variants, fmt.Sprintf("%02d%c%02d%c", c.aisle, c.level, c.position, c.level))
		}
		variants = append(variants, canonical+"_1")
		return dedupe(variants)
	case KindSpecial:
		return []string{c.special, c.special + "_1"}
	default:
		if c.raw == "" {
			return nil
		}
		return []string{c.raw}
	}
}

func dedupe(variants []string) []string {
	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == MaxSearchVariants {
			break
		}
	}
	return out
}
