package tweetapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"followsync/pkg/config"
	errs "followsync/pkg/errors"
	"followsync/pkg/logger"
	"followsync/pkg/models"
	"followsync/pkg/ratelimit"
)

// maxErrorBody caps how much of a failed response body is kept on the error.
const maxErrorBody = 4096

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	Variant    Variant
	APIKey     string
	AuthHeader string
	AuthScheme string
	PageSize   int
	// PageSizeParam names the v2 query parameter carrying PageSize.
	PageSizeParam string
	Timeout       time.Duration
	UserAgent     string

	HTTPClient *http.Client
	Limiter    ratelimit.Limiter
	Logger     logger.Logger
}

// OptionsFromConfig maps the api section of the configuration to Options.
func OptionsFromConfig(cfg config.APIConfig) (Options, error) {
	variant, err := ParseVariant(cfg.Variant)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BaseURL:       cfg.BaseURL,
		Variant:       variant,
		APIKey:        cfg.APIKey,
		AuthHeader:    cfg.AuthHeader,
		AuthScheme:    cfg.AuthScheme,
		PageSize:      cfg.PageSize,
		PageSizeParam: cfg.PageSizeParam,
		Timeout:       cfg.Timeout,
		UserAgent:     cfg.UserAgent,
	}, nil
}

// Client fetches follower and following pages from the upstream API
type Client struct {
	httpClient    *http.Client
	headers       map[string]string
	baseURL       string
	variant       Variant
	apiKey        string
	authHeader    string
	authScheme    string
	pageSize      int
	pageSizeParam string
	limiter       ratelimit.Limiter
	logger        logger.Logger
}

// NewClient creates a new upstream API client
func NewClient(opts Options) *Client {
	if opts.Variant == "" {
		opts.Variant = VariantV2
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURLV2
		if opts.Variant == VariantV1 {
			opts.BaseURL = DefaultBaseURLV1
		}
	}
	header, scheme := opts.Variant.defaultAuth()
	if opts.AuthHeader == "" {
		opts.AuthHeader = header
		opts.AuthScheme = scheme
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSizeParam == "" {
		opts.PageSizeParam = DefaultPageSizeParam
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "followsync/1.0"
	}

	return &Client{
		httpClient: opts.HTTPClient,
		headers: map[string]string{
			"User-Agent": opts.UserAgent,
			"Accept":     "application/json",
		},
		baseURL:       opts.BaseURL,
		variant:       opts.Variant,
		apiKey:        opts.APIKey,
		authHeader:    opts.AuthHeader,
		authScheme:    opts.AuthScheme,
		pageSize:      opts.PageSize,
		pageSizeParam: opts.PageSizeParam,
		limiter:       opts.Limiter,
		logger:        opts.Logger,
	}
}

// HasCredentials reports whether an API key is configured.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// FetchPage fetches one page of the account's followers. An empty cursor
// requests the first page; an empty nextCursor means there are no more pages.
func (c *Client) FetchPage(ctx context.Context, accountID, cursor string) ([]models.FollowerRecord, string, error) {
	return c.fetch(ctx, ListFollowers, accountID, cursor)
}

// FetchFollowingPage fetches one page of the accounts the account follows.
func (c *Client) FetchFollowingPage(ctx context.Context, accountID, cursor string) ([]models.FollowerRecord, string, error) {
	return c.fetch(ctx, ListFollowing, accountID, cursor)
}

// Following returns a view of the client whose FetchPage pages the
// following list instead of the follower list.
func (c *Client) Following() *FollowingFetcher {
	return &FollowingFetcher{client: c}
}

// FollowingFetcher adapts FetchFollowingPage to the FetchPage signature.
type FollowingFetcher struct {
	client *Client
}

// FetchPage fetches one page of the following list
func (f *FollowingFetcher) FetchPage(ctx context.Context, accountID, cursor string) ([]models.FollowerRecord, string, error) {
	return f.client.FetchFollowingPage(ctx, accountID, cursor)
}

func (c *Client) fetch(ctx context.Context, list List, accountID, cursor string) ([]models.FollowerRecord, string, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, "", errs.Configuration("account id is required")
	}
	if c.apiKey == "" {
		return nil, "", errs.Configuration("upstream api key is not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", errs.Upstream(0, "", err)
	}

	req, err := c.newPageRequest(ctx, list, accountID, cursor)
	if err != nil {
		return nil, "", errs.Upstream(0, "", fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errs.Upstream(0, "", fmt.Errorf("failed to read response body: %w", err))
	}

	if err := c.checkResponseStatus(req, resp, body); err != nil {
		return nil, "", err
	}

	records, next, err := decodePage(body)
	if err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          req.URL.Path,
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(body, 200),
		})
		return nil, "", &errs.Error{
			Type:    errs.ErrorTypeUpstream,
			Message: "upstream returned an unreadable body",
			Code:    resp.StatusCode,
			Body:    preview(body, maxErrorBody),
			Err:     err,
		}
	}

	c.logger.DebugWithFields("decoded page", map[string]interface{}{
		"list":       string(list),
		"account_id": accountID,
		"records":    len(records),
		"has_more":   next != "",
	})
	return records, next, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	auth := c.apiKey
	if c.authScheme != "" {
		auth = c.authScheme + " " + c.apiKey
	}
	req.Header.Set(c.authHeader, auth)

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Path,
	})

	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Upstream(0, "", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// checkResponseStatus maps any non-2xx response to an upstream error carrying
// the status code and a bounded copy of the body.
func (c *Client) checkResponseStatus(req *http.Request, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	fields := map[string]interface{}{
		"status": resp.StatusCode,
		"url":    req.URL.Path,
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.WarnWithFields("rate limit exceeded", fields)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.logger.WarnWithFields("upstream rejected credentials", fields)
	case resp.StatusCode >= 500:
		c.logger.ErrorWithFields("upstream server error", fields)
	default:
		c.logger.WarnWithFields("unexpected upstream status", fields)
	}

	return errs.Upstream(resp.StatusCode, preview(body, maxErrorBody), nil)
}

func preview(body []byte, n int) string {
	if len(body) <= n {
		return string(body)
	}
	return string(body[:n]) + "..."
}
