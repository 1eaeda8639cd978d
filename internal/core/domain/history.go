package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCursor is returned when a history cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid history cursor")

// HistoryCursor is the keyset position after the last record of a page.
type HistoryCursor struct {
	CreatedAt time.Time `json:"t"`
	ID        uuid.UUID `json:"id"`
}

// After returns true if the record sorts strictly after the cursor in
// (created_at, id) ascending order.
func (c HistoryCursor) After(rec *TransferRecord) bool {
	if !rec.CreatedAt.Equal(c.CreatedAt) {
		return rec.CreatedAt.After(c.CreatedAt)
	}
	return rec.ID.String() > c.ID.String()
}

// CursorFor returns the cursor positioned at rec.
func CursorFor(rec *TransferRecord) HistoryCursor {
	return HistoryCursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
}

// Encode renders the cursor as an opaque URL-safe token.
func (c HistoryCursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeHistoryCursor parses a token produced by Encode.
func DecodeHistoryCursor(token string) (*HistoryCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	var c HistoryCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	if c.ID == uuid.Nil || c.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing position", ErrInvalidCursor)
	}
	return &c, nil
}

// HistoryPage is one page of an account's transfer history.
type HistoryPage struct {
	Records    []TransferRecord `json:"records"`
	NextCursor string           `json:"next_cursor,omitempty"`
}
