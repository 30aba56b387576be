// Package hub is a small client for the dataset hub: token login, the
// datasets-server rows API and authenticated asset downloads.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Defaults for ClientOptions.
const (
	DefaultEndpoint       = "https://huggingface.co"
	DefaultDatasetsServer = "https://datasets-server.huggingface.co"
	DefaultRetryMax       = 3
	MaxPageSize           = 100
)

// Client errors.
var (
	ErrUnauthorized  = errors.New("hub: invalid or missing token")
	ErrNotFound      = errors.New("hub: not found")
	ErrAssetExpired  = errors.New("hub: asset url expired")
	ErrTruncatedRow  = errors.New("hub: row cells truncated")
	ErrEmptyResponse = errors.New("hub: empty response")
)

// ClientOptions configures the hub client.
type ClientOptions struct {
	// Endpoint is the hub API base URL (default: DefaultEndpoint).
	Endpoint string
	// DatasetsServer is the rows API base URL (default: DefaultDatasetsServer).
	DatasetsServer string
	// Token is sent as a bearer token to the Endpoint and DatasetsServer hosts only.
	Token string
	// RetryMax is the maximum number of transport retries on 429/5xx. Zero disables retries;
	// a negative value selects DefaultRetryMax.
	RetryMax int
	// Timeout is the per-attempt HTTP timeout (default: 60 seconds).
	Timeout time.Duration
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit float64
}

// Client talks to the hub. It is safe for concurrent use.
type Client struct {
	endpoint       string
	datasetsServer string
	token          string
	tokenHosts     map[string]bool
	httpClient     *retryablehttp.Client
	limiter        *rate.Limiter
}

// NewClient creates a client for the public hub with the given token.
func NewClient(token string) *Client {
	return NewClientWithOptions(ClientOptions{Token: token, RetryMax: -1})
}

// NewClientWithOptions creates a hub client with custom options.
func NewClientWithOptions(opts ClientOptions) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}

	if opts.DatasetsServer == "" {
		opts.DatasetsServer = DefaultDatasetsServer
	}

	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	if opts.RetryMax < 0 {
		opts.RetryMax = DefaultRetryMax
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.HTTPClient.Timeout = opts.Timeout
	retryClient.Logger = nil // Disable logging by default

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	tokenHosts := make(map[string]bool, 2)
	for _, base := range []string{opts.Endpoint, opts.DatasetsServer} {
		if u, err := url.Parse(base); err == nil && u.Host != "" {
			tokenHosts[strings.ToLower(u.Host)] = true
		}
	}

	return &Client{
		endpoint:       strings.TrimSuffix(opts.Endpoint, "/"),
		datasetsServer: strings.TrimSuffix(opts.DatasetsServer, "/"),
		token:          opts.Token,
		tokenHosts:     tokenHosts,
		httpClient:     retryClient,
		limiter:        limiter,
	}
}

// WhoAmI is the identity behind a token.
type WhoAmI struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Auth struct {
		AccessToken struct {
			DisplayName string `json:"displayName"`
			Role        string `json:"role"`
		} `json:"accessToken"`
	} `json:"auth"`
}

// Login validates the token against the hub and returns its identity.
func (c *Client) Login(ctx context.Context) (*WhoAmI, error) {
	if c.token == "" {
		return nil, ErrUnauthorized
	}

	var who WhoAmI
	if err := c.getJSON(ctx, c.endpoint+"/api/whoami-v2", &who); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	return &who, nil
}

// DatasetRef identifies one split of a dataset.
type DatasetRef struct {
	Name   string
	Config string
	Split  string
}

// String implements fmt.Stringer.
func (r DatasetRef) String() string {
	return r.Name + "/" + r.Config + "/" + r.Split
}

// Row is one row of the rows API. Cells are left raw for the caller to decode.
type Row struct {
	RowIdx         int                        `json:"row_idx"`
	Row            map[string]json.RawMessage `json:"row"`
	TruncatedCells []string                   `json:"truncated_cells"`
}

// IsTruncated reports whether any cell was cut by the server.
func (r *Row) IsTruncated() bool {
	return len(r.TruncatedCells) > 0
}

// RowsPage is one page of the rows API.
type RowsPage struct {
	Rows         []Row `json:"rows"`
	NumRowsTotal int   `json:"num_rows_total"`
	Partial      bool  `json:"partial"`
}

// Rows fetches length rows starting at offset. length is capped at MaxPageSize.
func (c *Client) Rows(ctx context.Context, ref DatasetRef, offset, length int) (*RowsPage, error) {
	if length <= 0 || length > MaxPageSize {
		length = MaxPageSize
	}

	params := url.Values{}
	params.Set("dataset", ref.Name)
	params.Set("config", ref.Config)
	params.Set("split", ref.Split)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("length", strconv.Itoa(length))

	var page RowsPage
	if err := c.getJSON(ctx, c.datasetsServer+"/rows?"+params.Encode(), &page); err != nil {
		return nil, fmt.Errorf("rows %s offset=%d: %w", ref, offset, err)
	}

	return &page, nil
}

// Row fetches a single row. Used to refetch truncated rows and to refresh expired asset URLs.
func (c *Client) Row(ctx context.Context, ref DatasetRef, idx int) (*Row, error) {
	page, err := c.Rows(ctx, ref, idx, 1)
	if err != nil {
		return nil, err
	}

	if len(page.Rows) == 0 {
		return nil, fmt.Errorf("row %d of %s: %w", idx, ref, ErrNotFound)
	}

	return &page.Rows[0], nil
}

// AllRows pages through the whole split and returns the rows in order.
// Truncated rows are refetched one by one; a row that stays truncated is an error.
func (c *Client) AllRows(ctx context.Context, ref DatasetRef, pageSize int) ([]Row, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var rows []Row

	for offset := 0; ; {
		page, err := c.Rows(ctx, ref, offset, pageSize)
		if err != nil {
			return nil, err
		}

		for i := range page.Rows {
			row := page.Rows[i]
			if row.IsTruncated() {
				full, err := c.Row(ctx, ref, row.RowIdx)
				if err != nil {
					return nil, err
				}

				if full.IsTruncated() {
					return nil, fmt.Errorf("row %d of %s (%s): %w",
						row.RowIdx, ref, strings.Join(full.TruncatedCells, ","), ErrTruncatedRow)
				}

				row = *full
			}

			rows = append(rows, row)
		}

		offset += len(page.Rows)

		slog.Debug("Fetched rows page", "dataset", ref.String(), "fetched", offset, "total", page.NumRowsTotal)

		if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
			break
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("rows %s: %w", ref, ErrEmptyResponse)
	}

	return rows, nil
}

// Asset is a downloaded binary file.
type Asset struct {
	Data        []byte
	ContentType string
}

// FetchAsset downloads a file from the asset server. The token is attached only when the
// asset lives on the hub or datasets-server host.
// A 403 or 404 means the signed URL is no longer valid and yields ErrAssetExpired.
func (c *Client) FetchAsset(ctx context.Context, assetURL string) (*Asset, error) {
	resp, err := c.do(ctx, assetURL)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("asset %s: %w", assetURL, ErrAssetExpired)
	default:
		return nil, statusError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset body: %w", err)
	}

	return &Asset{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	resp, err := c.do(ctx, reqURL)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, reqURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" && c.sendsTokenTo(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	return resp, nil
}

// sendsTokenTo reports whether u points at one of the configured hub hosts.
func (c *Client) sendsTokenTo(u *url.URL) bool {
	return u != nil && c.tokenHosts[strings.ToLower(u.Host)]
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		slog.Error("Failed to read error response body", "error", err)
	}

	return fmt.Errorf("hub request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Error("Failed to close response body", "error", err)
	}
}
