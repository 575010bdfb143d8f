package location

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchVariantsStorage(t *testing.T) {
	variants := SearchVariants(Parse("01-01-010A"))
	require.Equal(t, []string{
		"01-01-010A",
		"01-01-10A",
		"1-1-10A",
		"01A10A",
		"01-01-010A_1",
	}, variants)

	// Every variant that parses at all must round-trip to the same slot.
	for _, v := range variants[:4] {
		require.Equal(t, Parse("01-01-010A"), Parse(v), "variant %q names a different slot", v)
	}
}

func TestSearchVariantsWidePosition(t *testing.T) {
	// Three-digit positions have no two-digit or compact spelling.
	variants := SearchVariants(Parse("02-03-104B"))
	require.Equal(t, []string{
		"02-03-104B",
		"2-3-104B",
		"02-03-104B_1",
	}, variants)
}

func TestSearchVariantsSpecial(t *testing.T) {
	require.Equal(t, []string{"RECV-01", "RECV-01_1"}, SearchVariants(Parse("RECV-1")))
	require.Equal(t, []string{"STAGING", "STAGING_1"}, SearchVariants(Parse("STAGING")))
}

func TestSearchVariantsUnparseable(t *testing.T) {
	require.Equal(t, []string{"BOGUS"}, SearchVariants(Parse("BOGUS")))
	require.Nil(t, SearchVariants(Parse("")))
}

func TestSearchVariantsBound(t *testing.T) {
	inputs := []string{
		"01-01-001A", "99-99-999Z", "10-10-100A", "010A", "1A2", "01A10B",
		"RECV-01", "RECEIVING", "DOCK", "BOGUS", "", "A05-010",
	}
	for _, raw := range inputs {
		variants := SearchVariants(Parse(raw))
		require.LessOrEqual(t, len(variants), MaxSearchVariants, "too many variants for %q", raw)
		seen := map[string]struct{}{}
		for _, v := range variants {
			_, dup := seen[v]
			require.False(t, dup, "duplicate variant %q for %q", v, raw)
			seen[v] = struct{}{}
		}
	}
}
