package location

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		kind Kind
	}{
		{name: "standard already canonical", raw: "01-01-001A", want: "01-01-001A", kind: KindStorage},
		{name: "standard unpadded", raw: "1-1-1A", want: "01-01-001A", kind: KindStorage},
		{name: "standard two digit position", raw: "01-01-10A", want: "01-01-010A", kind: KindStorage},
		{name: "standard lowercase with spaces", raw: "  1-2-3b ", want: "01-02-003B", kind: KindStorage},
		{name: "compact", raw: "01A10B", want: "01-01-010B", kind: KindStorage},
		{name: "compact single digits", raw: "2C5D", want: "02-01-005D", kind: KindStorage},
		{name: "position level", raw: "010A", want: "01-01-010A", kind: KindStorage},
		{name: "position level rack", raw: "010A05", want: "01-05-010A", kind: KindStorage},
		{name: "short compact", raw: "1A2", want: "01-02-001A", kind: KindStorage},
		{name: "level rack position", raw: "A05-010", want: "01-05-010A", kind: KindStorage},
		{name: "user prefix", raw: "USER_TESTF_01-01-001A", want: "01-01-001A", kind: KindStorage},
		{name: "warehouse prefix", raw: "WH2_RECV-1", want: "RECV-01", kind: KindSpecial},
		{name: "stacked prefixes", raw: "WAREHOUSE_DEFAULT_STAGING", want: "STAGING", kind: KindSpecial},
		{name: "bare receiving", raw: "receiving", want: "RECEIVING", kind: KindSpecial},
		{name: "bare shipping", raw: "SHIPPING", want: "SHIPPING", kind: KindSpecial},
		{name: "bare dock", raw: "DOCK", want: "DOCK", kind: KindSpecial},
		{name: "numbered special pads", raw: "RECV-1", want: "RECV-01", kind: KindSpecial},
		{name: "numbered special wide", raw: "AISLE-123", want: "AISLE-123", kind: KindSpecial},
		{name: "unparseable gibberish", raw: "BOGUS", want: "BOGUS", kind: KindUnparseable},
		{name: "unparseable empty", raw: "", want: "", kind: KindUnparseable},
		{name: "unparseable zero aisle", raw: "00-01-001A", want: "00-01-001A", kind: KindUnparseable},
		{name: "unparseable zero special", raw: "RECV-0", want: "RECV-0", kind: KindUnparseable},
		{name: "unparseable inner space", raw: "01 01 001A", want: "01 01 001A", kind: KindUnparseable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			require.Equal(t, tt.kind, got.Kind())
			require.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	inputs := []string{
		"01-01-001A", "1-1-1A", "010A", "010A05", "A05-010", "01A10B", "1A2",
		"RECV-1", "RECEIVING", "USER_ABC_02-03-004C", "BOGUS", "", " junk ",
		"WH9_STAGE-7", "99-99-999Z", "DOCK", "00-00-000A",
	}
	for _, raw := range inputs {
		first := Parse(raw)
		again := Parse(first.String())
		require.Equal(t, first, again, "parse of rendered form diverged for %q", raw)
	}
}

func TestParseStorageCoordinates(t *testing.T) {
	c := Parse("02-13-104F")
	require.True(t, c.IsStorage())
	aisle, rack, position, level := c.Coordinates()
	require.Equal(t, 2, aisle)
	require.Equal(t, 13, rack)
	require.Equal(t, 104, position)
	require.Equal(t, byte('F'), level)
}

func TestInherentType(t *testing.T) {
	tests := []struct {
		raw  string
		want Type
	}{
		{"01-01-001A", TypeStorage},
		{"RECV-02", TypeReceiving},
		{"RECEIVING", TypeReceiving},
		{"STAGE-01", TypeStaging},
		{"STAGING", TypeStaging},
		{"DOCK-03", TypeDock},
		{"DOCK", TypeDock},
		{"SHIPPING", TypeDock},
		{"AISLE-01", TypeTransitional},
		{"???", TypeUnknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Parse(tt.raw).InherentType(), "type of %q", tt.raw)
	}
}

func TestIsSpecial(t *testing.T) {
	require.True(t, IsSpecial("recv-1"))
	require.True(t, IsSpecial("WAREHOUSE_STAGING"))
	require.False(t, IsSpecial("01-01-001A"))
	require.False(t, IsSpecial("junk"))
}

func TestNewStorage(t *testing.T) {
	c, err := NewStorage(1, 2, 3, 'A')
	require.NoError(t, err)
	require.Equal(t, "01-02-003A", c.String())

	_, err = NewStorage(0, 2, 3, 'A')
	require.Error(t, err)
	_, err = NewStorage(1, 100, 3, 'A')
	require.Error(t, err)
	_, err = NewStorage(1, 2, 1000, 'A')
	require.Error(t, err)
	_, err = NewStorage(1, 2, 3, '1')
	require.Error(t, err)
}

func TestNewSpecial(t *testing.T) {
	c, err := NewSpecial("recv-1")
	require.NoError(t, err)
	require.Equal(t, "RECV-01", c.String())

	_, err = NewSpecial("01-01-001A")
	require.Error(t, err)
	_, err = NewSpecial("junk")
	require.Error(t, err)
}

func TestCanonicalEquality(t *testing.T) {
	// Different spellings of the same slot collapse to one comparable value.
	require.Equal(t, Parse("01-01-010A"), Parse("010A"))
	require.Equal(t, Parse("RECV-01"), Parse("recv-1"))
	require.NotEqual(t, Parse("01-01-010A"), Parse("01-01-010B"))
}
