package db

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// pageCursor marks a pagination boundary: the send time and id of the
// oldest message the caller has already seen. Serialized opaquely so
// callers cannot depend on its layout.
type pageCursor struct {
	SentAt time.Time `json:"sent_at"`
	ID     string    `json:"id"`
}

func encodeCursor(c pageCursor) string {
	raw, err := json.Marshal(c)
	if err != nil {
		// Marshalling a two-field struct cannot fail.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return pageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return pageCursor{}, fmt.Errorf("decode cursor: %w", err)
	}
	return c, nil
}
