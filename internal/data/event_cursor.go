package data

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/greywolf-labs/siteward/internal/domain/model"
)

// eventCursorPayload is the decoded form of a keyset pagination token handed
// back to API callers as an opaque base64 string.
type eventCursorPayload struct {
	SortBy    string    `json:"sort_by"`
	SortDir   string    `json:"sort_dir"`
	EventType *string   `json:"event_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func canonicalSortDir(dir string) string {
	switch strings.ToLower(dir) {
	case "", "asc":
		return sortDirAsc
	case "desc":
		return sortDirDesc
	default:
		return ""
	}
}

func canonicalSortField(field string) string {
	switch strings.ToLower(field) {
	case "", "timestamp", defaultEventSortField:
		return defaultEventSortField
	case sortByEventType:
		return sortByEventType
	default:
		return ""
	}
}

func newEventCursorFromEvent(ev *model.Event, sortBy, sortDir string) eventCursorPayload {
	payload := eventCursorPayload{
		SortBy:    canonicalSortField(sortBy),
		SortDir:   canonicalSortDir(sortDir),
		CreatedAt: ev.CreatedAt,
		ID:        ev.ID,
	}
	if payload.SortBy == sortByEventType {
		payload.EventType = &ev.EventType
	}
	return payload
}

func encodeEventCursorPayload(cur eventCursorPayload) (string, error) {
	raw, err := json.Marshal(cur)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// parseEventCursorToken decodes and validates a cursor token produced by
// encodeEventCursorPayload, rejecting anything that doesn't carry enough
// state to resume a keyset scan.
func parseEventCursorToken(token string) (eventCursorPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return eventCursorPayload{}, fmt.Errorf("decode cursor: %w", err)
	}

	var cur eventCursorPayload
	if err := json.Unmarshal(raw, &cur); err != nil {
		return eventCursorPayload{}, fmt.Errorf("unmarshal cursor: %w", err)
	}

	cur.SortBy = canonicalSortField(cur.SortBy)
	cur.SortDir = canonicalSortDir(cur.SortDir)

	switch {
	case cur.SortBy == "" || cur.SortDir == "" || cur.ID == "" || cur.CreatedAt.IsZero():
		return eventCursorPayload{}, errors.New("invalid cursor payload")
	case cur.SortBy == sortByEventType && (cur.EventType == nil || *cur.EventType == ""):
		return eventCursorPayload{}, errors.New("cursor missing event_type for sort")
	}

	return cur, nil
}

// EncodeEventCursorFromEvent builds a cursor token for ev so UI pagination
// can seed keyset navigation from an event returned outside ListByJob (e.g.
// the first row of a freshly rendered page).
func EncodeEventCursorFromEvent(ev *model.Event, sortBy, sortDir string) (string, error) {
	if ev == nil {
		return "", errors.New("event is nil")
	}
	return encodeEventCursorPayload(newEventCursorFromEvent(ev, sortBy, sortDir))
}
