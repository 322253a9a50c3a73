package marketplace

import (
	"encoding/base64"
	"encoding/json"
)

const cursorVersion = 1

// Cursor is the decoded form of an opaque keyset pagination token. LastID
// is always set; SortValue is present only for value-ordered sorts, where
// the page boundary is "strictly after (SortValue, LastID)".
type Cursor struct {
	Version   int    `json:"v"`
	LastID    int64  `json:"id"`
	SortValue *int64 `json:"sv,omitempty"`
}

// EncodeCursor serializes a page boundary into an opaque token.
func EncodeCursor(lastID int64, sortValue *int64) string {
	c := Cursor{Version: cursorVersion, LastID: lastID, SortValue: sortValue}
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by EncodeCursor. Any malformed or
// unrecognized input decodes to nil, which callers treat as "first page".
func DecodeCursor(token string) *Cursor {
	if token == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil
	}
	if c.Version != cursorVersion || c.LastID == 0 {
		return nil
	}
	return &c
}
