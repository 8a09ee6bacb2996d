package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const maxErrorBodySize = 4096

// Client talks to the Space hosting platform's HTTP API.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retries     uint64
	backoffBase time.Duration
	log         *slog.Logger
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRetry sets how many times transient failures are retried and the
// initial exponential backoff.
func WithRetry(retries int, base time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = uint64(retries)
		}
		if base > 0 {
			c.backoffBase = base
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Client for base, e.g. https://huggingface.co. An empty
// token sends unauthenticated requests.
func New(base, token string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return nil, errors.New("hub base url required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid hub base url: %w", err)
	}
	c := &Client{
		baseURL:     trimmed,
		token:       strings.TrimSpace(token),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		retries:     3,
		backoffBase: 500 * time.Millisecond,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// HasToken reports whether requests are authenticated.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// Whoami returns the account name owning the token.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/whoami-v2", "", nil, &payload); err != nil {
		return "", err
	}
	if payload.Name == "" {
		return "", errors.New("whoami returned empty name")
	}
	return payload.Name, nil
}

// CreateSpace creates a Docker Space and returns its id. A Space that
// already exists is not an error.
func (c *Client) CreateSpace(ctx context.Context, namespace, name string, private bool) (string, error) {
	body := map[string]any{
		"type":    "space",
		"name":    name,
		"private": private,
		"sdk":     "docker",
	}
	if namespace != "" {
		body["organization"] = namespace
	}
	id := name
	if namespace != "" {
		id = namespace + "/" + name
	}
	payload, _ := json.Marshal(body)
	var resp struct {
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodPost, "/api/repos/create", "application/json", payload, &resp)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return id, nil
		}
		return "", err
	}
	if resp.Name != "" {
		id = resp.Name
	}
	return id, nil
}

// RequestHardware asks for a hardware flavor on the Space.
func (c *Client) RequestHardware(ctx context.Context, id, flavor string) error {
	payload, _ := json.Marshal(map[string]string{"flavor": flavor})
	return c.do(ctx, http.MethodPost, "/api/spaces/"+id+"/hardware", "application/json", payload, nil)
}

// Commit writes every file of commit to the main branch in one commit.
func (c *Client) Commit(ctx context.Context, id string, commit Commit) error {
	payload, err := encodeCommit(commit)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/spaces/"+id+"/commit/main", "application/x-ndjson", payload, nil)
}

// Restart asks the platform to rebuild and restart the Space.
func (c *Client) Restart(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/spaces/"+id+"/restart", "", nil, nil)
}

// Runtime returns the current stage of the Space.
func (c *Client) Runtime(ctx context.Context, id string) (Runtime, error) {
	var payload runtimePayload
	if err := c.do(ctx, http.MethodGet, "/api/spaces/"+id+"/runtime", "", nil, &payload); err != nil {
		return Runtime{}, err
	}
	return payload.runtime(), nil
}

type ndjsonLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func encodeCommit(commit Commit) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	header := ndjsonLine{Key: "header", Value: map[string]string{
		"summary":     commit.Summary,
		"description": commit.Description,
	}}
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("encode commit header: %w", err)
	}
	for _, f := range commit.Files {
		line := ndjsonLine{Key: "file", Value: map[string]string{
			"path":     f.Path,
			"content":  base64.StdEncoding.EncodeToString(f.Content),
			"encoding": "base64",
		}}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode commit file %s: %w", f.Path, err)
		}
	}
	return buf.Bytes(), nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, v any) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.backoffBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.once(ctx, method, path, contentType, body, v)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.retryable() {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		c.log.Debug("hub request retrying", "method", method, "path", path, "error", err)
		return retry.RetryableError(err)
	})
}

func (c *Client) once(ctx context.Context, method, path, contentType string, body []byte, v any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}
