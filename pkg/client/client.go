package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teleprompt/teleprompt/pkg/config"
	"github.com/teleprompt/teleprompt/pkg/payload"
)

const apiKeyHeader = "X-Api-Key"

// ErrUnauthorized is returned when the relay rejects the configured API key.
// Callers must not retry it automatically.
var ErrUnauthorized = errors.New("relay rejected the API key")

// Client talks to the relay server's upload/fetch endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg config.RelayConfig) (*Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		httpClient.Transport = &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}, nil
}

// Upload sends a payload to the relay. The server stamps its own timestamp
// at receipt, so the caller's Timestamp is advisory.
func (c *Client) Upload(ctx context.Context, p payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError("upload", resp)
	}
	return nil
}

// Fetch drains the relay's mailbox. A "not found" result is not an error.
func (c *Client) Fetch(ctx context.Context) (payload.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fetch", nil)
	if err != nil {
		return payload.FetchResponse{}, err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return payload.FetchResponse{}, fmt.Errorf("fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return payload.FetchResponse{}, responseError("fetch", resp)
	}

	var result payload.FetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return payload.FetchResponse{}, fmt.Errorf("decode fetch response: %w", err)
	}
	return result, nil
}

// Health checks the relay's unauthenticated liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func responseError(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s failed (%d): %s", op, resp.StatusCode, msg)
}
