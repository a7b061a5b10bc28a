package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxPages = 10

	// maxResponseSize bounds any single upstream response body.
	maxResponseSize = 10 * 1024 * 1024
	// maxErrorBody bounds the body excerpt kept on APIError.
	maxErrorBody = 4 * 1024
)

// ErrNoActiveSprint is returned by tracker clients when the project has no
// board, the board has no active sprint, or the team has no active cycle.
// Callers treat it as "no sprint data" rather than a failure.
var ErrNoActiveSprint = errors.New("source: no active sprint")

// APIError is a non-200 response from an upstream API.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
	URL        string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("%s: %s: %s", e.URL, e.Status, e.Body)
}

// Option configures a client.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	client      *http.Client
	baseURL     string
	maxPages    int
	concurrency int
	retry       RetryPolicy
}

// WithLogger sets the logger used for skipped repositories and empty trackers.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the underlying HTTP client. Authentication and retries
// are layered on top of its transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBaseURL overrides the API endpoint (GitHub Enterprise, self-hosted
// proxies, tests).
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithMaxPages bounds how many result pages a single fetch follows.
func WithMaxPages(n int) Option {
	return func(o *options) { o.maxPages = n }
}

// WithConcurrency bounds parallel repository fetches in GitHub.FetchAll.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithRetry replaces the default retry policy.
func WithRetry(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

func buildOptions(defaultURL string, opts []Option) options {
	o := options{
		baseURL:     defaultURL,
		maxPages:    defaultMaxPages,
		concurrency: 1,
		retry:       DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxPages <= 0 {
		o.maxPages = defaultMaxPages
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return o
}

// credentials selects how authRoundTripper authenticates.
type credentials struct {
	// mode is one of: bearer | basic | apikey.
	mode     string
	header   string
	username string
	secret   string
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base  http.RoundTripper
	creds credentials
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.creds.secret == "" {
		return t.base.RoundTrip(req)
	}
	switch t.creds.mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.creds.header, t.creds.secret)
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.creds.secret)
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.creds.username, t.creds.secret)
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient layers auth and retries over the configured client. The
// caller's client is copied, never mutated.
func buildHTTPClient(o options, creds credentials) *http.Client {
	var client http.Client
	if o.client != nil {
		client = *o.client
	}
	if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &authRoundTripper{
		base:  &RetryTransport{Base: base, Policy: o.retry, Logger: o.logger},
		creds: creds,
	}
	return &client
}

// getJSON performs a GET and decodes a 200 response into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return do(client, req, out)
}

// postJSON POSTs body as JSON and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return do(client, req, out)
}

func do(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(excerpt)),
			URL:        req.URL.String(),
		}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// graphQLError is one entry of a GraphQL "errors" array.
type graphQLError struct {
	Message string `json:"message"`
}

// queryGraphQL POSTs a GraphQL document and decodes its data member into out.
// A non-empty errors array is returned as an error even when data is present.
func queryGraphQL(ctx context.Context, client *http.Client, url, query string, vars map[string]any, out any) error {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	body := map[string]any{"query": query, "variables": vars}
	if err := postJSON(ctx, client, url, body, &envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("graphql errors: %v", msgs)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return errors.New("graphql: empty data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}
