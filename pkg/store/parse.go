package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	errs "followsync/pkg/errors"
	"followsync/pkg/models"
)

// ParseStoredList decodes a stored JSON array into its raw elements. It is
// total: nil, empty, malformed or non-array input yields an empty slice.
// Backends may hand back strings, byte slices or already-decoded values.
func ParseStoredList(raw any) []json.RawMessage {
	items, _ := parseStoredList(raw)
	return items
}

// parseStoredList is ParseStoredList with the reason a present value was
// rejected.
func parseStoredList(raw any) ([]json.RawMessage, error) {
	empty := []json.RawMessage{}

	switch v := raw.(type) {
	case nil:
		return empty, nil
	case string:
		return parseListText([]byte(v), true)
	case []byte:
		return parseListText(v, true)
	case json.RawMessage:
		return parseListText(v, true)
	case []json.RawMessage:
		out := make([]json.RawMessage, 0, len(v))
		for _, item := range v {
			if json.Valid(item) {
				out = append(out, item)
			}
		}
		return out, nil
	case []string:
		out := make([]json.RawMessage, 0, len(v))
		for _, item := range v {
			if json.Valid([]byte(item)) {
				out = append(out, json.RawMessage(item))
			}
		}
		return out, nil
	case []any:
		out := make([]json.RawMessage, 0, len(v))
		for _, item := range v {
			b, err := json.Marshal(item)
			if err != nil {
				continue
			}
			out = append(out, b)
		}
		return out, nil
	default:
		return empty, errs.Parse(fmt.Sprintf("unsupported stored value of type %T", raw), nil)
	}
}

// parseListText decodes text as a JSON array. A JSON string holding an array
// is unwrapped once.
func parseListText(text []byte, unwrap bool) ([]json.RawMessage, error) {
	text = bytes.TrimSpace(text)
	if len(text) == 0 {
		return []json.RawMessage{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(text, &items); err == nil {
		if items == nil {
			items = []json.RawMessage{}
		}
		return items, nil
	}

	var inner string
	if unwrap && json.Unmarshal(text, &inner) == nil && strings.HasPrefix(strings.TrimSpace(inner), "[") {
		return parseListText([]byte(inner), false)
	}

	return []json.RawMessage{}, errs.Parse("stored value is not a JSON array", nil)
}

// decodeRecords turns stored elements into follower records, skipping any
// element that is not an object with an id.
func decodeRecords(items []json.RawMessage) models.Snapshot {
	out := make(models.Snapshot, 0, len(items))
	for _, item := range items {
		var rec models.FollowerRecord
		if err := json.Unmarshal(item, &rec); err != nil || rec.ID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// decodeEvents turns stored elements into unfollow events. Elements without
// an id or a parseable timestamp are skipped.
func decodeEvents(items []json.RawMessage) []models.UnfollowEvent {
	out := make([]models.UnfollowEvent, 0, len(items))
	for _, item := range items {
		var ev models.UnfollowEvent
		if err := json.Unmarshal(item, &ev); err != nil || ev.ID == "" || ev.UnfollowedAt.IsZero() {
			continue
		}
		out = append(out, ev)
	}
	return out
}
