package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

var (
	// ErrUnauthorized indicates the receiver rejected authentication.
	ErrUnauthorized = errors.New("notify: unauthorized")
	// ErrInvalidArgument indicates the receiver rejected the payload.
	ErrInvalidArgument = errors.New("notify: invalid argument")
	// ErrNotFound indicates the receiver endpoint does not exist.
	ErrNotFound = errors.New("notify: endpoint not found")
)

// Webhook posts run events as JSON to a fixed URL.
type Webhook struct {
	url    string
	token  string
	client *http.Client
}

// NewWebhook creates a webhook notifier for url.
func NewWebhook(url, token string, client *http.Client) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("webhook url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Webhook{url: trimmed, token: strings.TrimSpace(token), client: client}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Notify sends event to the webhook URL.
func (w *Webhook) Notify(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.RunID) == "" {
		return errors.New("webhook event requires run_id")
	}
	event.OccurredAt = event.OccurredAt.UTC()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("request failed: %s", summary)
	}
}
