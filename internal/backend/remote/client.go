// Package remote implements backend.Backend over HTTP for writes and a
// websocket for the change feed.
package remote

import (
	"bytes"
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

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/types"
)

// APIError represents a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("huddle api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("huddle api error: %s (%d)", e.Code, e.Status)
	}
	if e.Message != "" {
		return fmt.Sprintf("huddle api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("huddle api error (%d)", e.Status)
}

// Unwrap maps the response onto the backend sentinel errors.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound || e.Code == CodeNotFound:
		return backend.ErrNotFound
	case e.Status == http.StatusRequestEntityTooLarge || e.Code == CodeTooLarge:
		return backend.ErrTooLarge
	case e.Status == http.StatusNotImplemented || e.Code == CodeUnsupported:
		return backend.ErrUnsupported
	case e.Status == http.StatusServiceUnavailable || e.Status == http.StatusBadGateway:
		return backend.ErrUnavailable
	}
	return nil
}

// Options configures a Client.
type Options struct {
	Logger  zerolog.Logger
	Timeout time.Duration
}

// Client talks to a huddle server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     zerolog.Logger
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, opts Options) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: normalized,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		logger: opts.Logger,
	}, nil
}

// NormalizeBaseURL normalizes a server URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("backend url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("backend url must include scheme (http:// or https://)")
	}
	value = strings.TrimRight(value, "/")
	return value, nil
}

func docsPath(collection string) string {
	return "/v1/collections/" + url.PathEscape(collection) + "/docs"
}

func docPath(collection, id string) string {
	return docsPath(collection) + "/" + url.PathEscape(id)
}

// Create stores msg and returns its server id.
func (c *Client) Create(ctx context.Context, collection string, msg types.Message) (string, error) {
	if err := backend.CheckSize(msg); err != nil {
		return "", err
	}
	var resp CreateResponse
	if err := c.doJSON(ctx, http.MethodPost, docsPath(collection), nil, msg, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create %s: empty id in response", collection)
	}
	return resp.ID, nil
}

// Update applies a partial update.
func (c *Client) Update(ctx context.Context, collection, id string, patch types.Patch) error {
	return c.doJSON(ctx, http.MethodPatch, docPath(collection, id), nil, patch, nil)
}

// Wipe deletes every document of a collection.
func (c *Client) Wipe(ctx context.Context, collection string) (int, error) {
	var resp WipeResponse
	path := "/v1/collections/" + url.PathEscape(collection) + "/wipe"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// Increment bumps a counter field on a document.
func (c *Client) Increment(ctx context.Context, collection, id, field string, delta int64) (int64, error) {
	var resp IncrementResponse
	req := IncrementRequest{Field: field, Delta: delta}
	if err := c.doJSON(ctx, http.MethodPost, docPath(collection, id)+"/increment", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// ReadCounter returns the current value of a counter field.
func (c *Client) ReadCounter(ctx context.Context, collection, id, field string) (int64, error) {
	var resp IncrementResponse
	query := url.Values{}
	query.Set("field", field)
	if err := c.doJSON(ctx, http.MethodGet, docPath(collection, id)+"/counter", query, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Upload stores a blob and returns its URL.
func (c *Client) Upload(ctx context.Context, path string, data []byte) (string, error) {
	query := url.Values{}
	query.Set("path", path)
	endpoint, err := c.buildURL("/v1/uploads", query)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))
	var resp UploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, backend.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload ErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("code", apiErr.Code).Str("path", req.URL.Path).Msg("api error")
		return apiErr
	}

	if respBody == nil {
		return nil
	}
	if len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	endpoint := base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusTooManyRequests || apiErr.Code == CodeRateLimited)
}
