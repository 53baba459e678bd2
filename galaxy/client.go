// Package galaxy is a small client for the Galaxy REST API.
//
// It covers what the OAuth login needs (exchanging a username and password
// for an API key and reading the current user) and the handful of read and
// create calls the MCP tools pass through. A Session holds the shared
// connection used when no OAuth credentials are present on a request.
package galaxy

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/galaxyproject/galaxy-mcp/instrumentation"
	"github.com/galaxyproject/galaxy-mcp/internal/util"
)

// DefaultTimeout bounds every upstream call made with the default HTTP client.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 512

var (
	// ErrInvalidCredentials is returned by Authenticate when Galaxy answers 401.
	ErrInvalidCredentials = errors.New("invalid galaxy credentials")

	// ErrMissingAPIKey is returned by Authenticate when the response carries no key.
	ErrMissingAPIKey = errors.New("galaxy did not return an api key")
)

// APIError is a non-2xx answer from Galaxy.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("galaxy api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("galaxy api returned status %d: %s", e.StatusCode, e.Body)
}

// StatusCode extracts the HTTP status from an APIError in err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// NormalizeURL returns u with exactly one trailing slash.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	return util.NormalizeURL(u) + "/"
}

// Client talks to one Galaxy server, optionally on behalf of one API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	metrics *instrumentation.Metrics
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithInstrumentation records spans and metrics for every upstream call.
func WithInstrumentation(inst *instrumentation.Instrumentation) Option {
	return func(c *Client) {
		if inst != nil {
			c.metrics = inst.Metrics()
			c.tracer = inst.Tracer("galaxy")
		}
	}
}

// NewClient creates a client for the Galaxy server at baseURL. apiKey may be
// empty for calls that authenticate differently, such as Authenticate.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    NormalizeURL(baseURL),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAPIKey returns a copy of c that authenticates with apiKey.
func (c *Client) WithAPIKey(apiKey string) *Client {
	cp := *c
	cp.apiKey = apiKey
	return &cp
}

// URL returns the normalized server URL, ending in "/".
func (c *Client) URL() string {
	return c.baseURL
}

// APIKey returns the key the client sends.
func (c *Client) APIKey() string {
	return c.apiKey
}

// User is the current-user document returned by Galaxy.
type User map[string]any

// Username returns the "username" field, or "".
func (u User) Username() string {
	s, _ := u["username"].(string)
	return s
}

// Email returns the "email" field, or "".
func (u User) Email() string {
	s, _ := u["email"].(string)
	return s
}

// Authenticate exchanges a username and password for an API key through
// Galaxy's basic-auth endpoint.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	var payload struct {
		APIKey string `json:"api_key"`
	}
	err := c.do(ctx, "authenticate", http.MethodGet, "api/authenticate/baseauth", nil, nil, &payload,
		func(req *http.Request) { req.SetBasicAuth(username, password) })
	if err != nil {
		if StatusCode(err) == http.StatusUnauthorized {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if payload.APIKey == "" {
		return "", ErrMissingAPIKey
	}
	return payload.APIKey, nil
}

// CurrentUser returns the user owning the client's API key.
func (c *Client) CurrentUser(ctx context.Context) (User, error) {
	var user User
	if err := c.get(ctx, "current_user", "api/users/current", nil, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// Version returns the server's version document.
func (c *Client) Version(ctx context.Context) (map[string]any, error) {
	var v map[string]any
	if err := c.get(ctx, "version", "api/version", nil, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Config returns the server's public configuration.
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var cfg map[string]any
	if err := c.get(ctx, "config", "api/configuration", nil, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HistoryQuery filters a history listing. A zero Limit means no limit.
type HistoryQuery struct {
	Limit  int
	Offset int
	Name   string
}

func (q HistoryQuery) values() url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Name != "" {
		v.Set("q", "name")
		v.Set("qv", q.Name)
	}
	return v
}

// Histories lists the user's histories.
func (c *Client) Histories(ctx context.Context, q HistoryQuery) ([]map[string]any, error) {
	var out []map[string]any
	if err := c.get(ctx, "histories", "api/histories", q.values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns one history's metadata.
func (c *Client) History(ctx context.Context, historyID string) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "history", "api/histories/"+url.PathEscape(historyID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryContents returns the datasets and collections in a history.
func (c *Client) HistoryContents(ctx context.Context, historyID string) ([]map[string]any, error) {
	var out []map[string]any
	path := "api/histories/" + url.PathEscape(historyID) + "/contents"
	if err := c.get(ctx, "history_contents", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateHistory creates a new history named name.
func (c *Client) CreateHistory(ctx context.Context, name string) (map[string]any, error) {
	var out map[string]any
	body := map[string]string{"name": name}
	if err := c.do(ctx, "create_history", http.MethodPost, "api/histories", nil, body, &out, c.setAPIKey); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.do(ctx, op, http.MethodGet, path, query, nil, out, c.setAPIKey)
}

func (c *Client) setAPIKey(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any, auth func(*http.Request)) (err error) {
	if c.baseURL == "" {
		return errors.New("galaxy url is not configured")
	}

	ctx, span := c.startSpan(ctx, op)
	defer span.End()

	start := time.Now()
	status := 0
	defer func() {
		c.record(ctx, span, op, status, err, start)
	}()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("galaxy %s request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Body: util.SafeTruncate(strings.TrimSpace(string(data)), maxErrorBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode galaxy %s response: %w", op, err)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, tracenoop.Span{}
	}
	return c.tracer.Start(ctx, "galaxy."+op,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrGalaxyOperation, op),
			attribute.String(instrumentation.AttrGalaxyURL, c.baseURL),
		))
}

func (c *Client) record(ctx context.Context, span trace.Span, op string, status int, err error, start time.Time) {
	instrumentation.AddGalaxyAttributes(span, c.baseURL, op, status)
	if err != nil {
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	c.metrics.RecordGalaxyAPICall(ctx, op, status, durationMs, err)
}
