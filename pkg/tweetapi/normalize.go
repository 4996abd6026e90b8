package tweetapi

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"followsync/pkg/models"
)

// Upstream response shapes drift between API versions, so every lookup
// tries an ordered list of candidate paths and takes the first usable hit.

var recordPaths = [][]string{
	{"data", "followers"},
	{"data", "following"},
	{"data", "users"},
	{"followers"},
	{"following"},
	{"users"},
	{"data"},
	{"results"},
}

var cursorPaths = [][]string{
	{"data", "next_cursor"},
	{"data", "nextCursor"},
	{"next_cursor_str"},
	{"next_cursor"},
	{"nextCursor"},
	{"meta", "next_token"},
	{"pagination_token"},
}

var (
	idKeys       = []string{"id_str", "id", "user_id", "userId", "rest_id"}
	usernameKeys = []string{"screen_name", "username", "userName"}
	nameKeys     = []string{"name", "display_name", "displayName"}
	avatarKeys   = []string{"profile_image_url_https", "profile_image_url", "profilePicture", "profile_pic", "avatar"}
)

// decodePage normalizes a raw response body into records and a continuation
// cursor. An unrecognized shape yields no records and no cursor.
func decodePage(body []byte) ([]models.FollowerRecord, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, "", err
	}

	var items []any
	cursor := ""
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items = extractRecords(v)
		cursor = extractCursor(v)
	}

	records := make([]models.FollowerRecord, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if rec, ok := normalizeRecord(m); ok {
			records = append(records, rec)
		}
	}
	return records, cursor, nil
}

func lookup(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func extractRecords(doc map[string]any) []any {
	for _, path := range recordPaths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		if arr, ok := v.([]any); ok && len(arr) > 0 {
			return arr
		}
	}
	return nil
}

func extractCursor(doc map[string]any) string {
	for _, path := range cursorPaths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		if c := NormalizeCursor(v); c != "" {
			return c
		}
	}
	return ""
}

// NormalizeCursor converts a raw cursor value into its string form, mapping
// every end-of-list sentinel (nil, "", "0", 0, "-1") to "".
func NormalizeCursor(v any) string {
	var s string
	switch c := v.(type) {
	case string:
		s = strings.TrimSpace(c)
	case json.Number:
		s = c.String()
	case float64:
		s = strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		s = strconv.Itoa(c)
	case int64:
		s = strconv.FormatInt(c, 10)
	default:
		return ""
	}

	switch s {
	case "", "0", "-1", "null":
		return ""
	}
	return s
}

func normalizeRecord(m map[string]any) (models.FollowerRecord, bool) {
	// GraphQL-style payloads keep the profile under "legacy"
	legacy, _ := m["legacy"].(map[string]any)

	pick := func(keys []string) string {
		if s := firstString(m, keys); s != "" {
			return s
		}
		if legacy != nil {
			return firstString(legacy, keys)
		}
		return ""
	}

	rec := models.FollowerRecord{
		ID:          pick(idKeys),
		Username:    pick(usernameKeys),
		DisplayName: pick(nameKeys),
		AvatarURL:   pick(avatarKeys),
	}
	return rec, rec.ID != ""
}

func firstString(m map[string]any, keys []string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
