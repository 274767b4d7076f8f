package pagination

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CET", 3600)
	c := Cursor{PublishedAt: time.Date(2025, 3, 1, 13, 4, 5, 123456789, loc), ID: 42}

	got, err := Decode(c.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.PublishedAt.Equal(c.PublishedAt) || got.PublishedAt.Location() != time.UTC || got.ID != 42 {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for _, in := range []string{
		"%%%",
		enc("no separator"),
		enc("yesterday|5"),
		enc("2025-03-01T12:00:00Z|abc"),
		enc("2025-03-01T12:00:00Z|0"),
	} {
		if _, err := Decode(in); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("Decode(%q) = %v, want ErrInvalidCursor", in, err)
		}
	}
}
