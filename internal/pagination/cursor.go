package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

const cursorPrefix = "id:"

// Default and maximum page sizes.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// PageResult represents a paginated result set
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
	ErrInvalidLimit  = errors.New("invalid limit")
)

// EncodeCursor creates a base64-encoded cursor pointing past lastID
func EncodeCursor(lastID int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(cursorPrefix + strconv.FormatInt(lastID, 10)))
}

// DecodeCursor returns the ID the cursor points past. An empty cursor
// starts at the beginning.
func DecodeCursor(cursor string) (int64, bool, error) {
	if cursor == "" {
		return 0, false, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, false, ErrInvalidCursor
	}
	raw, ok := strings.CutPrefix(string(decoded), cursorPrefix)
	if !ok {
		return 0, false, ErrInvalidCursor
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, ErrInvalidCursor
	}
	return id, true, nil
}

// ParseLimit reads a page size, falling back to DefaultLimit and capping
// at MaxLimit.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, ErrInvalidLimit
	}
	return min(limit, MaxLimit), nil
}

// NewPage builds a page from up to limit+1 items read in ID order. The
// extra item only signals that another page exists.
func NewPage[T any](items []T, limit int, getID func(T) int64) PageResult[T] {
	page := PageResult[T]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		page.Cursor = EncodeCursor(getID(page.Items[limit-1]))
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
