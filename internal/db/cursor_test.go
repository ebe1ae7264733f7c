package db

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	in := pageCursor{
		SentAt: time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC),
		ID:     "0f8fad5b",
	}

	encoded := encodeCursor(in)
	if encoded == "" {
		t.Fatal("encoded cursor is empty")
	}

	out, err := decodeCursor(encoded)
	if err != nil {
		t.Fatalf("decodeCursor failed: %v", err)
	}
	if !out.SentAt.Equal(in.SentAt) {
		t.Errorf("SentAt = %v, want %v", out.SentAt, in.SentAt)
	}
	if out.ID != in.ID {
		t.Errorf("ID = %q, want %q", out.ID, in.ID)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"base64 but not json", "bm90LWpzb24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeCursor(tt.input); err == nil {
				t.Errorf("decodeCursor(%q) should fail", tt.input)
			}
		})
	}
}
