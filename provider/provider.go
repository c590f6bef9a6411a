// Package provider is the client for the remote media catalog. The
// catalog's query and auth protocol is treated as opaque: this package
// only knows how to search, resolve an asset by id, and stream a
// rendition's bytes.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	mediafetch "github.com/wolfeidau/mediafetch"
	"github.com/wolfeidau/mediafetch/telemetry"
)

const (
	// DefaultTimeout is the default timeout for catalog requests.
	DefaultTimeout = 30 * time.Second
)

var (
	// ErrNotFound is returned when an asset does not exist upstream.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the catalog cannot be reached.
	ErrUnavailable = errors.New("provider unavailable")
)

// SearchPage is one page of catalog search results.
type SearchPage struct {
	Query        string             `json:"query"`
	Page         int                `json:"page"`
	PerPage      int                `json:"per_page"`
	TotalResults int                `json:"total_results"`
	Assets       []mediafetch.Asset `json:"assets"`
}

// Client fetches catalog data from the upstream media provider.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client

	// fileClient has no overall timeout: large rendition transfers are
	// bounded by the caller's context deadline instead.
	fileClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the catalog base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithAPIKey sets the API key sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new catalog client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
		fileClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
}

// Search returns one page of assets matching the query.
func (c *Client) Search(ctx context.Context, query string, page, perPage int) (*SearchPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 15
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	endpoint := fmt.Sprintf("%s/videos/search?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RecordProviderRequest(ctx, "search", "error", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		telemetry.RecordProviderRequest(ctx, "search", "error", time.Since(start))
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(body))
	}

	var result SearchPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	result.Query = query

	telemetry.RecordProviderRequest(ctx, "search", "success", time.Since(start))
	return &result, nil
}

// GetVideo fetches a single asset by its provider id.
func (c *Client) GetVideo(ctx context.Context, id int64) (*mediafetch.Asset, error) {
	endpoint := fmt.Sprintf("%s/videos/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RecordProviderRequest(ctx, "get_video", "error", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		telemetry.RecordProviderRequest(ctx, "get_video", "not_found", time.Since(start))
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.RecordProviderRequest(ctx, "get_video", "error", time.Since(start))
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(body))
	}

	var asset mediafetch.Asset
	if err := json.NewDecoder(resp.Body).Decode(&asset); err != nil {
		return nil, fmt.Errorf("decoding asset: %w", err)
	}

	telemetry.RecordProviderRequest(ctx, "get_video", "success", time.Since(start))
	return &asset, nil
}

// FetchFile streams a rendition's bytes. The caller must close the
// returned ReadCloser. The reported length is -1 when unknown.
func (c *Client) FetchFile(ctx context.Context, fileURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	// Rendition links may live on a separate CDN host with no auth.
	resp, err := c.fileClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, 0, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(body))
	}

	return resp.Body, resp.ContentLength, nil
}
