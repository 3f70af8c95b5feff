// Package expert provides the transport to the remote expert chat endpoint.
package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doutor-motors/expert-chat/internal/model"
)

// ErrNoBody is returned when the endpoint answers 200 without a body.
var ErrNoBody = errors.New("expert: response has no body")

// ErrMissingToken is returned when a request is attempted without a bearer token.
var ErrMissingToken = errors.New("expert: access token is required")

// StatusError is returned when the endpoint answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("expert: unexpected status %d", e.Code)
	}
	return fmt.Sprintf("expert: unexpected status %d: %s", e.Code, e.Body)
}

// ChatMessage is one transcript entry sent to the endpoint.
type ChatMessage struct {
	Role        model.Role `json:"role"`
	Content     string     `json:"content"`
	ImageBase64 string     `json:"imageBase64,omitempty"`
}

// ChatRequest is the JSON body of a streamed chat completion request.
type ChatRequest struct {
	Messages       []ChatMessage          `json:"messages"`
	VehicleContext *model.VehicleContext  `json:"vehicleContext"`
	ConversationID *string                `json:"conversationId"`
	ObdCodes       []model.DiagnosticCode `json:"obdCodes"`
	DocumentName   string                 `json:"documentName,omitempty"`
}

// Config holds endpoint settings.
type Config struct {
	URL string
	// APIKey is the hosted backend's public key, sent as the apikey header
	// when set.
	APIKey string
	// Timeout bounds connection setup and response headers. The streamed
	// body is bounded by the caller's context only.
	Timeout time.Duration
}

// Client issues streamed chat requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new expert chat client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("expert chat URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: cfg.Timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   16,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Stream posts req and returns the response body for incremental reading.
// The caller must close the returned reader. Cancelling ctx aborts the
// request and any pending read.
func (c *Client) Stream(ctx context.Context, req *ChatRequest, accessToken string) (io.ReadCloser, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("apikey", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}

	return resp.Body, nil
}
