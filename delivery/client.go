// Package delivery forwards events to customer destinations: a single-call
// HTTP client plus the worker component that drives the retry/DLQ state
// machine.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360studio/metahub/store"
)

// maxResponseBytes bounds the captured response body per attempt.
const maxResponseBytes = 2000

// defaultTimeout applies when a destination carries no timeout.
const defaultTimeout = 10 * time.Second

// userAgent identifies outbound calls.
const userAgent = "metahub/0.1"

// AttemptResult captures the outcome of a single call to a destination.
type AttemptResult struct {
	StatusCode   *int   `json:"status_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Success reports whether the call got a 2xx response.
func (r *AttemptResult) Success() bool {
	return r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

// Client performs single HTTP calls to customer destinations. The transport
// is shared; per-call deadlines come from the destination's timeout_ms.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a destination client.
func NewClient() *Client {
	return &Client{
		// No client-level timeout: the per-destination deadline is
		// enforced through the request context.
		httpClient: &http.Client{},
	}
}

// Call delivers one body to the destination and captures the result. It
// never returns an error: network failures and timeouts are part of the
// AttemptResult, which the worker records and acts on.
func (c *Client) Call(ctx context.Context, dest *store.Destination, body []byte, eventID string, attempt int) *AttemptResult {
	timeout := defaultTimeout
	if dest.TimeoutMs > 0 {
		timeout = time.Duration(dest.TimeoutMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result := &AttemptResult{}

	req, err := http.NewRequestWithContext(callCtx, dest.Method, dest.URL, bytes.NewReader(body))
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("build request: %v", err)
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-MetaHub-Event-Id", eventID)
	req.Header.Set("X-MetaHub-Attempt", fmt.Sprintf("%d", attempt))
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, dest, body)

	resp, err := c.httpClient.Do(req)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			result.ErrorMessage = fmt.Sprintf("Timeout after %dms", timeout.Milliseconds())
		} else {
			result.ErrorMessage = err.Error()
		}
		return result
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	result.StatusCode = &code

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	result.ResponseBody = string(captured)

	if !result.Success() {
		result.ErrorMessage = fmt.Sprintf("destination returned HTTP %d", code)
	}
	return result
}

// applyAuth adds the destination's credential headers.
func applyAuth(req *http.Request, dest *store.Destination, body []byte) {
	cfg := dest.AuthConfig
	switch dest.AuthType {
	case store.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg["token"])
	case store.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(cfg["username"] + ":" + cfg["password"]))
		req.Header.Set("Authorization", "Basic "+creds)
	case store.AuthAPIKey:
		header := cfg["header_name"]
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, cfg["api_key"])
	case store.AuthHMAC:
		req.Header.Set("X-Hub-Signature-256", "sha256="+SignBody([]byte(cfg["secret"]), body))
	}
}

// SignBody computes the hex HMAC-SHA256 of a raw body. Shared with the
// webhook receiver, which verifies the same scheme inbound.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
