package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"

	"github.com/c360studio/metahub/payload"
)

// defaultGraphBaseURL is Meta's Graph API endpoint; overridable for tests.
const defaultGraphBaseURL = "https://graph.facebook.com/v21.0"

// Enricher fetches full lead records from the Meta Graph API. Leadgen
// webhooks carry only identifiers; the useful field data lives behind a
// second call.
type Enricher struct {
	baseURL    string
	httpClient *http.Client
}

// NewEnricher creates an enricher against the production Graph API.
func NewEnricher() *Enricher {
	return &Enricher{
		baseURL:    defaultGraphBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchLead retrieves the full lead record. Transient Graph failures are
// retried; 4xx responses are not (a revoked token will not heal by
// retrying).
func (e *Enricher) FetchLead(ctx context.Context, leadgenID, accessToken string) (payload.Document, error) {
	if leadgenID == "" || accessToken == "" {
		return nil, fmt.Errorf("leadgen id and access token are required")
	}

	reqURL := fmt.Sprintf("%s/%s?access_token=%s", e.baseURL, url.PathEscape(leadgenID), url.QueryEscape(accessToken))

	var lead payload.Document
	retryConfig := retry.DefaultConfig()
	err := retry.Do(ctx, retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("build lead request: %w", err))
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch lead %s: %w", leadgenID, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read lead response: %w", err)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.NonRetryable(fmt.Errorf("graph api returned %d for lead %s", resp.StatusCode, leadgenID))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph api returned %d for lead %s", resp.StatusCode, leadgenID)
		}
		if err := json.Unmarshal(body, &lead); err != nil {
			return retry.NonRetryable(fmt.Errorf("decode lead response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lead, nil
}
