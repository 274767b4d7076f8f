package models

import (
	"testing"
	"time"
)

func TestPercentRoundsHalfUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		part, whole, want int
	}{
		{0, 0, 0},
		{1, 11, 9},
		{1, 10, 10},
		{1, 8, 13},  // 12.5
		{3, 8, 38},  // 37.5
		{1, 3, 33},  // 33.33
		{2, 3, 67},  // 66.67
		{1, 40, 3},  // 2.5
		{7, 7, 100}, // 100
	}
	for _, tc := range cases {
		if got := Percent(tc.part, tc.whole); got != tc.want {
			t.Fatalf("Percent(%d, %d) = %d, want %d", tc.part, tc.whole, got, tc.want)
		}
	}
}

func TestClampScore(t *testing.T) {
	t.Parallel()

	if ClampScore(-3) != 0 || ClampScore(140) != 100 || ClampScore(42) != 42 {
		t.Fatalf("ClampScore did not bound values to [0,100]")
	}
}

func TestMetadataScanValue(t *testing.T) {
	t.Parallel()

	disabledAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Metadata{"retry_count": 2, "disabled_reason": "low health"}
	m.SetTime("disabled_at", disabledAt)

	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var out Metadata
	if err := out.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if out.Int("retry_count") != 2 {
		t.Fatalf("retry_count = %d", out.Int("retry_count"))
	}
	if out.String("disabled_reason") != "low health" {
		t.Fatalf("disabled_reason = %q", out.String("disabled_reason"))
	}
	got, ok := out.Time("disabled_at")
	if !ok || !got.Equal(disabledAt) {
		t.Fatalf("disabled_at = %v (ok=%v)", got, ok)
	}

	var empty Metadata
	if err := empty.Scan(nil); err != nil || empty != nil {
		t.Fatalf("Scan(nil) = %v, %v", empty, err)
	}
}

func TestParseSourceType(t *testing.T) {
	t.Parallel()

	if st, err := ParseSourceType(" Atom "); err != nil || st != SourceTypeAtom {
		t.Fatalf("ParseSourceType(Atom) = %q, %v", st, err)
	}
	if st, err := ParseSourceType(""); err != nil || st != SourceTypeRSS {
		t.Fatalf("empty type should default to rss, got %q, %v", st, err)
	}
	if _, err := ParseSourceType("gopher"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
