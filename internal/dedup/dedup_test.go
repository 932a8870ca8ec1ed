package dedup

import (
	"testing"

	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

func obs(flight string, circle int) types.Observation {
	return types.Observation{types.FieldFlight: flight, "circle": int64(circle)}
}

func TestMerge_OverlappingCircles(t *testing.T) {
	a := []types.Observation{obs("N123", 1), obs("N456", 1)}
	b := []types.Observation{obs("N123", 2), obs("N456", 2), obs("N789", 2)}

	res := Merge([][]types.Observation{a, b})

	if len(res.Observations) != 3 {
		t.Fatalf("Expected 3 observations, got %d", len(res.Observations))
	}
	want := []string{"N123", "N456", "N789"}
	for i, w := range want {
		if got := res.Observations[i].Flight(); got != w {
			t.Errorf("observation %d = %s, want %s", i, got, w)
		}
	}
	if res.Duplicates != 2 {
		t.Errorf("Expected 2 duplicates, got %d", res.Duplicates)
	}
}

func TestMerge_FirstOccurrenceWins(t *testing.T) {
	a := []types.Observation{obs("UAL1", 1)}
	b := []types.Observation{obs("UAL1", 2)}

	res := Merge([][]types.Observation{a, b})
	if got := res.Observations[0]["circle"]; got != int64(1) {
		t.Errorf("Expected observation from first circle, got circle %v", got)
	}

	res = Merge([][]types.Observation{b, a})
	if got := res.Observations[0]["circle"]; got != int64(2) {
		t.Errorf("Expected observation from first circle in order, got circle %v", got)
	}
}

func TestMerge_TrimmedIdentity(t *testing.T) {
	batch := []types.Observation{obs("DAL22  ", 1), obs("  DAL22", 1), obs("DAL22", 1)}

	res := Merge([][]types.Observation{batch})
	if len(res.Observations) != 1 {
		t.Errorf("Expected whitespace variants to collapse, got %d observations", len(res.Observations))
	}
	if res.Duplicates != 2 {
		t.Errorf("Expected 2 duplicates within one batch, got %d", res.Duplicates)
	}
}

func TestMerge_HexFallbackAndAnonymous(t *testing.T) {
	batch := []types.Observation{
		{types.FieldHex: "abc123"},
		{types.FieldHex: "ABC123", types.FieldFlight: ""},
		{types.FieldHex: "def456"},
		{types.FieldLat: 40.0},
	}

	res := Merge([][]types.Observation{batch})
	if len(res.Observations) != 2 {
		t.Errorf("Expected 2 observations, got %d", len(res.Observations))
	}
	if res.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", res.Duplicates)
	}
	if res.Anonymous != 1 {
		t.Errorf("Expected 1 anonymous observation, got %d", res.Anonymous)
	}
}

func TestMerge_Empty(t *testing.T) {
	res := Merge(nil)
	if len(res.Observations) != 0 || res.Duplicates != 0 {
		t.Errorf("Expected empty result, got %+v", res)
	}
}
