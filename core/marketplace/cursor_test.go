package marketplace

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	sv := int64(250)
	token := EncodeCursor(42, &sv)
	c := DecodeCursor(token)
	if c == nil {
		t.Fatalf("expected cursor, got nil")
	}
	if c.LastID != 42 {
		t.Fatalf("expected LastID 42, got %d", c.LastID)
	}
	if c.SortValue == nil || *c.SortValue != 250 {
		t.Fatalf("expected SortValue 250, got %v", c.SortValue)
	}
}

func TestCursorRoundTripNoSortValue(t *testing.T) {
	c := DecodeCursor(EncodeCursor(7, nil))
	if c == nil {
		t.Fatalf("expected cursor, got nil")
	}
	if c.LastID != 7 || c.SortValue != nil {
		t.Fatalf("unexpected cursor %+v", c)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	cases := []string{
		"",
		"not base64 !!!",
		"bm90IGpzb24",               // valid base64, not json
		"eyJ2Ijo5OSwiaWQiOjV9",      // wrong version
		"eyJ2IjoxLCJpZCI6MH0",       // zero id
		"eyJ2IjoxfQ",                // missing id
		EncodeCursor(1, nil) + "==", // padded, RawURLEncoding rejects
	}
	for _, token := range cases {
		if c := DecodeCursor(token); c != nil {
			t.Fatalf("token %q: expected nil, got %+v", token, c)
		}
	}
}
