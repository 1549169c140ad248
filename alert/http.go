package alert

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/store"
)

var validate = validator.New()

// RegisterHTTPHandlers registers HTTP handlers for the alert component.
// The prefix includes the trailing slash (e.g., "/alerts/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"acknowledge", c.handleAcknowledge)
	mux.HandleFunc(prefix+"resolve", c.handleResolve)
}

type alertActionRequest struct {
	AlertID string `json:"alert_id" validate:"required"`
}

// loadAuthorized decodes the body, loads the alert and checks membership.
func (c *Component) loadAuthorized(w http.ResponseWriter, r *http.Request) (*store.AlertHistory, string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, "", false
	}
	if c.store == nil {
		http.Error(w, "Alert store not available", http.StatusServiceUnavailable)
		return nil, "", false
	}
	if c.auth == nil {
		http.Error(w, "Session verification not configured", http.StatusServiceUnavailable)
		return nil, "", false
	}

	var req alertActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return nil, "", false
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	history, err := c.store.GetAlertHistory(r.Context(), req.AlertID)
	if err != nil {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return nil, "", false
	}
	userID, err := c.auth.RequireMember(r.Context(), r, history.WorkspaceID)
	if err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return nil, "", false
	}
	return history, userID, true
}

// handleAcknowledge handles POST /alerts/acknowledge: triggered → acknowledged.
func (c *Component) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	history, userID, ok := c.loadAuthorized(w, r)
	if !ok {
		return
	}

	if history.Status != store.AlertTriggered {
		http.Error(w, "Alert is not in triggered state", http.StatusConflict)
		return
	}
	now := time.Now()
	history.Status = store.AlertAcknowledged
	history.AcknowledgedBy = userID
	history.AcknowledgedAt = &now

	if err := c.store.UpdateAlertHistory(r.Context(), history); err != nil {
		c.writeUpdateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResolve handles POST /alerts/resolve: triggered or acknowledged →
// resolved.
func (c *Component) handleResolve(w http.ResponseWriter, r *http.Request) {
	history, _, ok := c.loadAuthorized(w, r)
	if !ok {
		return
	}

	if history.Status != store.AlertTriggered && history.Status != store.AlertAcknowledged {
		http.Error(w, "Alert is not in a resolvable state", http.StatusConflict)
		return
	}
	now := time.Now()
	history.Status = store.AlertResolved
	history.ResolvedAt = &now

	if err := c.store.UpdateAlertHistory(r.Context(), history); err != nil {
		c.writeUpdateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Component) writeUpdateError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}
	c.logger.Error("Failed to update alert history", "error", err)
	http.Error(w, "Update failed", http.StatusInternalServerError)
}
