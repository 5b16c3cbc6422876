package provider

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

	"github.com/example/delivery-pipeline/internal/message"
)

// Provider dispatches one message to an external gateway and returns the
// gateway's message id. Failures are *message.TransportError.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *message.Message) (string, error)
}

const defaultTimeout = 10 * time.Second

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

// postJSON sends payload and decodes a 2xx body into out when out is non-nil.
// Non-2xx responses are classified into a TransportError.
func postJSON(ctx context.Context, client *http.Client, name, url string, headers map[string]string, payload, out any) (http.Header, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &message.TransportError{Provider: name, Permanent: true, Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &message.TransportError{Provider: name, Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient(client).Do(req)
	if err != nil {
		return nil, &message.TransportError{Provider: name, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return nil, classifyHTTP(name, resp.StatusCode, string(raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, &message.TransportError{Provider: name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.Header, nil
}

// classifyHTTP marks throttling and server errors transient and every other
// rejection permanent.
func classifyHTTP(name string, status int, body string) *message.TransportError {
	body = strings.TrimSpace(body)
	if body == "" {
		body = http.StatusText(status)
	}
	permanent := status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout
	return &message.TransportError{
		Provider:   name,
		StatusCode: status,
		Permanent:  permanent,
		Err:        errors.New(body),
	}
}

func unsupportedChannel(name string, ch message.Channel) error {
	return &message.TransportError{Provider: name, Permanent: true, Err: fmt.Errorf("unsupported channel %q", ch)}
}
