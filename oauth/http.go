package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/logsink"
	"github.com/c360studio/metahub/store"
)

var validate = validator.New()

// RegisterHTTPHandlers registers HTTP handlers for the oauth component.
// The prefix includes the trailing slash (e.g., "/oauth/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"meta/start", c.handleStart)
	mux.HandleFunc(prefix+"meta/callback", c.handleCallback)
}

type startRequest struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
}

type startResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// handleStart handles POST /oauth/meta/start: mint a signed state for the
// caller's workspace and hand back the consent URL.
func (c *Component) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.auth == nil {
		http.Error(w, "Session verification not configured", http.StatusServiceUnavailable)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userID, err := c.auth.RequireMember(r.Context(), r, req.WorkspaceID)
	if err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	state, err := SignState([]byte(c.config.StateSecret), StatePayload{
		WorkspaceID: req.WorkspaceID,
		UserID:      userID,
		Timestamp:   time.Now().UnixMilli(),
	})
	if err != nil {
		c.logger.Error("Failed to sign oauth state", "error", err)
		http.Error(w, "Failed to start OAuth flow", http.StatusInternalServerError)
		return
	}

	c.startsIssued.Add(1)
	c.updateLastActivity()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(startResponse{
		URL:   c.graph.AuthorizeURL(c.config.RedirectURL, state),
		State: state,
	})
}

// handleCallback handles GET /oauth/meta/callback: verify the state,
// exchange the code, enumerate resources and store the integration, then
// send the browser back to the app.
func (c *Component) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.store == nil {
		http.Error(w, "Integration store not available", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	code := q.Get("code")
	if code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	state, err := VerifyState([]byte(c.config.StateSecret), q.Get("state"), time.Now())
	if err != nil {
		c.logger.Warn("OAuth state verification failed", "error", err)
		http.Error(w, "Invalid state", http.StatusUnauthorized)
		return
	}

	token, err := c.graph.ExchangeCode(r.Context(), code, c.config.RedirectURL)
	if err != nil {
		c.logger.Error("OAuth code exchange failed",
			"workspace_id", state.WorkspaceID,
			"error", err)
		c.sink.Log(r.Context(), state.WorkspaceID, logsink.LevelError, logsink.CategoryOAuth,
			"oauth.exchange_failed",
			fmt.Sprintf("Code exchange failed: %v", err), nil)
		http.Error(w, "Code exchange failed", http.StatusBadGateway)
		return
	}

	resources, enumErrs := c.graph.EnumerateResources(r.Context(), token)
	for _, enumErr := range enumErrs {
		c.logger.Warn("Resource enumeration incomplete",
			"workspace_id", state.WorkspaceID,
			"error", enumErr)
	}

	now := time.Now()
	integration := &store.Integration{
		WorkspaceID: state.WorkspaceID,
		AccessToken: token,
		Scopes:      requestedScopes,
		Resources:   resources,
		LastSyncAt:  &now,
	}
	if existing, err := c.store.GetIntegration(r.Context(), state.WorkspaceID); err == nil {
		integration.ID = existing.ID
		integration.CreatedAt = existing.CreatedAt
	}
	if err := c.store.UpsertIntegration(r.Context(), integration); err != nil {
		c.logger.Error("Failed to store integration",
			"workspace_id", state.WorkspaceID,
			"error", err)
		http.Error(w, "Failed to store integration", http.StatusInternalServerError)
		return
	}

	c.connectsDone.Add(1)
	c.updateLastActivity()

	c.sink.Log(r.Context(), state.WorkspaceID, logsink.LevelInfo, logsink.CategoryOAuth,
		"oauth.connected",
		fmt.Sprintf("Meta account connected with %d resources", len(resources)),
		map[string]any{
			"user_id":   state.UserID,
			"resources": len(resources),
		})

	http.Redirect(w, r, c.config.AppURL, http.StatusFound)
}
