// Package licenseclient calls a keyserver's public validate endpoint.
//
//	c := licenseclient.New("https://licenses.example.com")
//	resp, err := c.Validate(ctx, key)
//	if err != nil {
//		// transport or server failure
//	}
//	if err := resp.Err(); err != nil {
//		// errors.Is(err, licenseclient.ErrLicenseRevoked), ...
//	}
package licenseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20 // 1 MB
	validatePath     = "/api/validate"
)

// Client talks to the keyserver HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration // applied after all options
	userAgent  string
}

// New creates a client for the keyserver at baseURL (e.g. "https://licenses.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   defaultTimeout,
		userAgent: "keyserver-licenseclient-go/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.Timeout = c.timeout
	return c
}

// ValidateResponse is the server's verdict. Reason is set only when Valid is false.
type ValidateResponse struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	Message   string     `json:"message"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Err maps a negative verdict to a sentinel error. It returns nil for a valid license.
func (r *ValidateResponse) Err() error {
	if r.Valid {
		return nil
	}
	switch r.Reason {
	case "not found":
		return ErrLicenseNotFound
	case "revoked":
		return ErrLicenseRevoked
	case "expired":
		return ErrLicenseExpired
	default:
		return fmt.Errorf("license invalid: %s", r.Message)
	}
}

// Validate checks key against the server. A negative verdict is returned as
// a response, not an error; use ValidateResponse.Err to classify it.
func (c *Client) Validate(ctx context.Context, key string) (*ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.doJSON(ctx, validatePath, map[string]string{"license_key": key}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs a POST with a JSON body and decodes the response into dest.
func (c *Client) doJSON(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError reads the {"error": {"code", "message"}} envelope.
func parseError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	se := &ServerError{StatusCode: statusCode, Code: "UNKNOWN", Message: string(body)}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Code != "" {
		se.Code = errResp.Error.Code
		se.Message = errResp.Error.Message
	}
	if statusCode == http.StatusBadRequest {
		return &requestError{server: se}
	}
	return se
}
