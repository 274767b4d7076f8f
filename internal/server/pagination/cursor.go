// Package pagination encodes keyset positions into opaque page cursors.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const cursorSeparator = "|"

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the (published_at, id) position of the last article on a page.
type Cursor struct {
	PublishedAt time.Time
	ID          int64
}

// Encode returns the opaque form of c.
func (c Cursor) Encode() string {
	key := c.PublishedAt.UTC().Format(time.RFC3339Nano) + cursorSeparator + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Decode parses a cursor produced by Encode.
func Decode(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}

	ts, id, ok := strings.Cut(string(raw), cursorSeparator)
	if !ok {
		return Cursor{}, fmt.Errorf("%w: bad format", ErrInvalidCursor)
	}

	publishedAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad timestamp", ErrInvalidCursor)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Cursor{}, fmt.Errorf("%w: bad id", ErrInvalidCursor)
	}
	return Cursor{PublishedAt: publishedAt.UTC(), ID: n}, nil
}
