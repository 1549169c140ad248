package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c360studio/semstreams/pkg/retry"

	"github.com/c360studio/metahub/store"
)

// Meta OAuth and Graph endpoints; overridable for tests.
const (
	defaultAuthBaseURL  = "https://www.facebook.com/v21.0/dialog/oauth"
	defaultGraphBaseURL = "https://graph.facebook.com/v21.0"
)

// requestedScopes is the permission set metahub asks for: WhatsApp inbox,
// lead retrieval and ad account listing.
var requestedScopes = []string{
	"whatsapp_business_management",
	"whatsapp_business_messaging",
	"leads_retrieval",
	"pages_show_list",
	"pages_manage_ads",
	"ads_read",
}

// GraphClient talks to the Meta Graph API for the OAuth dance.
type GraphClient struct {
	appID      string
	appSecret  string
	authURL    string
	graphURL   string
	httpClient *http.Client
}

// NewGraphClient creates a Graph client with the app credentials.
func NewGraphClient(appID, appSecret string) *GraphClient {
	return &GraphClient{
		appID:      appID,
		appSecret:  appSecret,
		authURL:    defaultAuthBaseURL,
		graphURL:   defaultGraphBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// AuthorizeURL builds the consent screen URL for a signed state.
func (g *GraphClient) AuthorizeURL(redirectURI, state string) string {
	q := url.Values{
		"client_id":     {g.appID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {strings.Join(requestedScopes, ",")},
		"response_type": {"code"},
	}
	return g.authURL + "?" + q.Encode()
}

// tokenResponse is the Graph token endpoint's body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ExchangeCode trades an authorization code for a long-lived access token.
func (g *GraphClient) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	q := url.Values{
		"client_id":     {g.appID},
		"client_secret": {g.appSecret},
		"redirect_uri":  {redirectURI},
		"code":          {code},
	}
	var token tokenResponse
	if err := g.getJSON(ctx, g.graphURL+"/oauth/access_token?"+q.Encode(), &token); err != nil {
		return "", fmt.Errorf("exchange code: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("exchange code: empty access token")
	}
	return token.AccessToken, nil
}

// graphList is the common paged list shape.
type graphList struct {
	Data []json.RawMessage `json:"data"`
}

// EnumerateResources lists the WhatsApp numbers, ad accounts and lead forms
// the token can reach. Enumeration is best-effort per kind: one failing
// listing does not lose the others.
func (g *GraphClient) EnumerateResources(ctx context.Context, token string) ([]store.MetaResource, []error) {
	var resources []store.MetaResource
	var errs []error

	numbers, err := g.listWhatsAppNumbers(ctx, token)
	if err != nil {
		errs = append(errs, fmt.Errorf("list whatsapp numbers: %w", err))
	}
	resources = append(resources, numbers...)

	accounts, err := g.listAdAccounts(ctx, token)
	if err != nil {
		errs = append(errs, fmt.Errorf("list ad accounts: %w", err))
	}
	resources = append(resources, accounts...)

	forms, err := g.listLeadForms(ctx, token)
	if err != nil {
		errs = append(errs, fmt.Errorf("list lead forms: %w", err))
	}
	resources = append(resources, forms...)

	return resources, errs
}

func (g *GraphClient) listWhatsAppNumbers(ctx context.Context, token string) ([]store.MetaResource, error) {
	var businesses graphList
	u := fmt.Sprintf("%s/me/businesses?access_token=%s", g.graphURL, url.QueryEscape(token))
	if err := g.getJSON(ctx, u, &businesses); err != nil {
		return nil, err
	}

	var out []store.MetaResource
	for _, raw := range businesses.Data {
		var business struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &business); err != nil || business.ID == "" {
			continue
		}

		var wabas graphList
		u := fmt.Sprintf("%s/%s/owned_whatsapp_business_accounts?access_token=%s",
			g.graphURL, url.PathEscape(business.ID), url.QueryEscape(token))
		if err := g.getJSON(ctx, u, &wabas); err != nil {
			continue
		}
		for _, rawWABA := range wabas.Data {
			var waba struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(rawWABA, &waba); err != nil || waba.ID == "" {
				continue
			}

			var numbers graphList
			u := fmt.Sprintf("%s/%s/phone_numbers?access_token=%s",
				g.graphURL, url.PathEscape(waba.ID), url.QueryEscape(token))
			if err := g.getJSON(ctx, u, &numbers); err != nil {
				continue
			}
			for _, rawNum := range numbers.Data {
				var num struct {
					ID            string `json:"id"`
					VerifiedName  string `json:"verified_name"`
					DisplayNumber string `json:"display_phone_number"`
				}
				if err := json.Unmarshal(rawNum, &num); err != nil || num.ID == "" {
					continue
				}
				name := num.VerifiedName
				if name == "" {
					name = num.DisplayNumber
				}
				out = append(out, store.MetaResource{
					Kind:       store.ResourceWhatsAppNumber,
					ResourceID: num.ID,
					Name:       name,
				})
			}
		}
	}
	return out, nil
}

func (g *GraphClient) listAdAccounts(ctx context.Context, token string) ([]store.MetaResource, error) {
	var accounts graphList
	u := fmt.Sprintf("%s/me/adaccounts?fields=id,name&access_token=%s", g.graphURL, url.QueryEscape(token))
	if err := g.getJSON(ctx, u, &accounts); err != nil {
		return nil, err
	}

	var out []store.MetaResource
	for _, raw := range accounts.Data {
		var acct struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &acct); err != nil || acct.ID == "" {
			continue
		}
		out = append(out, store.MetaResource{
			Kind:       store.ResourceAdAccount,
			ResourceID: acct.ID,
			Name:       acct.Name,
		})
	}
	return out, nil
}

// listLeadForms walks the user's pages and each page's lead forms. The
// page-scoped token is kept on the resource: lead enrichment prefers it over
// the user token.
func (g *GraphClient) listLeadForms(ctx context.Context, token string) ([]store.MetaResource, error) {
	var pages graphList
	u := fmt.Sprintf("%s/me/accounts?fields=id,name,access_token&access_token=%s", g.graphURL, url.QueryEscape(token))
	if err := g.getJSON(ctx, u, &pages); err != nil {
		return nil, err
	}

	var out []store.MetaResource
	for _, raw := range pages.Data {
		var page struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
		}
		if err := json.Unmarshal(raw, &page); err != nil || page.ID == "" {
			continue
		}

		pageToken := page.AccessToken
		if pageToken == "" {
			pageToken = token
		}
		var forms graphList
		u := fmt.Sprintf("%s/%s/leadgen_forms?fields=id,name&access_token=%s",
			g.graphURL, url.PathEscape(page.ID), url.QueryEscape(pageToken))
		if err := g.getJSON(ctx, u, &forms); err != nil {
			continue
		}
		for _, rawForm := range forms.Data {
			var form struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}
			if err := json.Unmarshal(rawForm, &form); err != nil || form.ID == "" {
				continue
			}
			out = append(out, store.MetaResource{
				Kind:       store.ResourceLeadForm,
				ResourceID: form.ID,
				Name:       form.Name,
				PageToken:  page.AccessToken,
			})
		}
	}
	return out, nil
}

// getJSON fetches a Graph URL with retries on transient failures. 4xx
// responses are not retried: a bad code or revoked token will not heal.
func (g *GraphClient) getJSON(ctx context.Context, reqURL string, v any) error {
	retryConfig := retry.DefaultConfig()
	return retry.Do(ctx, retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("build graph request: %w", err))
		}
		resp, err := g.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("graph request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read graph response: %w", err)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return retry.NonRetryable(fmt.Errorf("graph api returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("graph api returned %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, v); err != nil {
			return retry.NonRetryable(fmt.Errorf("decode graph response: %w", err))
		}
		return nil
	})
}
