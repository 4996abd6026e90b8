package tweetapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Variant selects the request shape of the upstream API.
type Variant string

const (
	// VariantV1 posts {user_id, count, cursor} and authenticates with a bearer token.
	VariantV1 Variant = "v1"
	// VariantV2 issues GET requests with query parameters and an X-API-Key header.
	VariantV2 Variant = "v2"
)

// List selects which relation of the account is paged.
type List string

const (
	ListFollowers List = "followers"
	ListFollowing List = "following"
)

const (
	// DefaultBaseURLV1 is the base URL of the POST-style API
	DefaultBaseURLV1 = "https://api.tweetapi.com/api/v1"
	// DefaultBaseURLV2 is the base URL of the GET-style API
	DefaultBaseURLV2 = "https://api.tweetapi.com/tw-v2"

	// DefaultPageSize is the page size requested per page
	DefaultPageSize = 200
	// DefaultPageSizeParam is the v2 query parameter carrying the page size
	DefaultPageSizeParam = "max_results"

	// v1FirstCursor asks the v1 API for the first page
	v1FirstCursor = "-1"
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(s))) {
	case VariantV1:
		return VariantV1, nil
	case VariantV2, "":
		return VariantV2, nil
	default:
		return "", fmt.Errorf("unknown api variant %q", s)
	}
}

// defaultAuth returns the header name and scheme each variant expects.
func (v Variant) defaultAuth() (header, scheme string) {
	if v == VariantV1 {
		return "Authorization", "Bearer"
	}
	return "X-API-Key", ""
}

func (v Variant) path(list List) string {
	switch {
	case v == VariantV1 && list == ListFollowing:
		return "/friends/list"
	case v == VariantV1:
		return "/followers/list"
	case list == ListFollowing:
		return "/user/following"
	default:
		return "/user/followers"
	}
}

type v1Body struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
	Cursor string `json:"cursor"`
}

// newPageRequest builds the HTTP request for one page. An empty cursor
// requests the first page.
func (c *Client) newPageRequest(ctx context.Context, list List, accountID, cursor string) (*http.Request, error) {
	endpoint := strings.TrimRight(c.baseURL, "/") + c.variant.path(list)

	if c.variant == VariantV1 {
		if cursor == "" {
			cursor = v1FirstCursor
		}
		body, err := json.Marshal(v1Body{UserID: accountID, Count: c.pageSize, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	params := url.Values{}
	params.Set("userId", accountID)
	params.Set(c.pageSizeParam, strconv.Itoa(c.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
}
