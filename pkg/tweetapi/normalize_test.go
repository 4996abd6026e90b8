package tweetapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePageShapes(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantIDs    []string
		wantCursor string
	}{
		{
			name:       "v2 nested data",
			body:       `{"data":{"followers":[{"id":"1"},{"id":"2"}],"next_cursor":"c2"}}`,
			wantIDs:    []string{"1", "2"},
			wantCursor: "c2",
		},
		{
			name:       "v2 flat",
			body:       `{"followers":[{"userId":"7"}],"nextCursor":"n"}`,
			wantIDs:    []string{"7"},
			wantCursor: "n",
		},
		{
			name:       "v1 users with numeric cursor",
			body:       `{"users":[{"id":99}],"next_cursor":1689012345678,"next_cursor_str":"1689012345678"}`,
			wantIDs:    []string{"99"},
			wantCursor: "1689012345678",
		},
		{
			name:    "data array",
			body:    `{"data":[{"user_id":"5"}]}`,
			wantIDs: []string{"5"},
		},
		{
			name:    "top-level array",
			body:    `[{"id":"8"},{"id":"9"}]`,
			wantIDs: []string{"8", "9"},
		},
		{
			name:       "first non-empty array wins",
			body:       `{"data":{"followers":[]},"users":[{"id":"3"}],"next_cursor":"x"}`,
			wantIDs:    []string{"3"},
			wantCursor: "x",
		},
		{
			name:       "graphql legacy profile",
			body:       `{"results":[{"rest_id":"44","legacy":{"screen_name":"eve","name":"Eve","profile_image_url_https":"https://img/e"}}]}`,
			wantIDs:    []string{"44"},
			wantCursor: "",
		},
		{
			name:    "unrecognized shape",
			body:    `{"status":"ok","payload":{"items":[{"id":"1"}]}}`,
			wantIDs: []string{},
		},
		{
			name:    "records without ids are dropped",
			body:    `{"followers":[{"username":"ghost"},"junk",42,{"id":"1"}]}`,
			wantIDs: []string{"1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, cursor, err := decodePage([]byte(tt.body))
			require.NoError(t, err)

			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantCursor, cursor)
		})
	}
}

func TestDecodePageLegacyFields(t *testing.T) {
	records, _, err := decodePage([]byte(`{"results":[{"rest_id":"44","legacy":{"screen_name":"eve","name":"Eve","profile_image_url_https":"https://img/e"}}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "eve", records[0].Username)
	assert.Equal(t, "Eve", records[0].DisplayName)
	assert.Equal(t, "https://img/e", records[0].AvatarURL)
}

func TestDecodePageMissingFieldsAreEmpty(t *testing.T) {
	records, _, err := decodePage([]byte(`{"followers":[{"id":"1","name":null}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "", records[0].Username)
	assert.Equal(t, "", records[0].DisplayName)
	assert.Equal(t, "", records[0].AvatarURL)
}

func TestNormalizeCursorSentinels(t *testing.T) {
	sentinels := []any{nil, "", "  ", "0", "-1", json.Number("0"), json.Number("-1"), float64(0), 0, int64(0), true, map[string]any{}}
	for _, s := range sentinels {
		assert.Equal(t, "", NormalizeCursor(s), "%#v", s)
	}

	assert.Equal(t, "abc", NormalizeCursor("abc"))
	assert.Equal(t, "1689012345678", NormalizeCursor(json.Number("1689012345678")))
	assert.Equal(t, "12", NormalizeCursor(float64(12)))
}

func TestDecodePageSentinelCursors(t *testing.T) {
	bodies := []string{
		`{"users":[{"id":"1"}]}`,
		`{"users":[{"id":"1"}],"next_cursor":""}`,
		`{"users":[{"id":"1"}],"next_cursor":"0"}`,
		`{"users":[{"id":"1"}],"next_cursor":0,"next_cursor_str":"0"}`,
		`{"users":[{"id":"1"}],"next_cursor":null}`,
	}
	for _, body := range bodies {
		_, cursor, err := decodePage([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "", cursor, body)
	}
}

func TestDecodePageInvalidJSON(t *testing.T) {
	_, _, err := decodePage([]byte(`not json`))
	assert.Error(t, err)
}
