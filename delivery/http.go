package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/store"
)

var validate = validator.New()

// RegisterHTTPHandlers registers HTTP handlers for the delivery component.
// The prefix includes the trailing slash (e.g., "/delivery/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"process", c.handleProcess)
	mux.HandleFunc(prefix+"resend", c.handleResend)
	mux.HandleFunc(prefix+"test", c.handleTest)
	mux.HandleFunc(prefix+"stats", c.handleStats)
}

// ready reports whether the component can serve requests and writes the
// error response when it cannot.
func (c *Component) ready(w http.ResponseWriter) bool {
	if c.worker == nil || c.store == nil {
		http.Error(w, "Delivery worker not available", http.StatusServiceUnavailable)
		return false
	}
	if c.auth == nil {
		http.Error(w, "Session verification not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// handleProcess handles POST /delivery/process. It runs one sweep on demand;
// the periodic sweep makes this optional, but it is useful operationally and
// in integration tests.
func (c *Component) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.ready(w) {
		return
	}
	if _, err := c.auth.UserFromRequest(r); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	result, err := c.worker.Process(r.Context(), c.config.BatchSize)
	if err != nil {
		c.logger.Error("On-demand delivery sweep failed", "error", err)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resendRequest struct {
	EventID string `json:"event_id" validate:"required"`
}

// handleResend handles POST /delivery/resend. It requeues a failed or
// dead-lettered event and nudges the workers so the retry runs promptly.
func (c *Component) handleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.ready(w) {
		return
	}

	var req resendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ev, err := c.store.GetEvent(r.Context(), req.EventID)
	if err != nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}
	if _, err := c.auth.RequireMember(r.Context(), r, ev.WorkspaceID); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	requeued, err := c.worker.Resend(r.Context(), req.EventID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			http.Error(w, "Event is not in a resendable state", http.StatusConflict)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "Event not found", http.StatusNotFound)
		default:
			c.logger.Error("Resend failed", "event_id", req.EventID, "error", err)
			http.Error(w, "Resend failed", http.StatusInternalServerError)
		}
		return
	}

	if err := c.PublishNudge(r.Context(), requeued.ID); err != nil {
		// The sweep will pick the event up; the resend itself succeeded.
		c.logger.Warn("Failed to publish resend nudge",
			"event_id", requeued.ID,
			"error", err)
	}
	writeJSON(w, http.StatusOK, requeued)
}

type testRequest struct {
	DestinationID string `json:"destination_id" validate:"required"`
}

// handleTest handles POST /delivery/test. It sends a canned payload to the
// destination without creating an event.
func (c *Component) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.ready(w) {
		return
	}

	var req testRequest
	if !decodeBody(w, r, &req) {
		return
	}

	dest, err := c.store.GetDestination(r.Context(), req.DestinationID)
	if err != nil {
		http.Error(w, "Destination not found", http.StatusNotFound)
		return
	}
	if _, err := c.auth.RequireMember(r.Context(), r, dest.WorkspaceID); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	result, err := c.worker.TestDestination(r.Context(), req.DestinationID)
	if err != nil {
		c.logger.Error("Destination test failed", "destination_id", req.DestinationID, "error", err)
		http.Error(w, "Test failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStats handles GET /delivery/stats?workspace_id=...&hours=N.
func (c *Component) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !c.ready(w) {
		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}
	if _, err := c.auth.RequireMember(r.Context(), r, workspaceID); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 720 {
			http.Error(w, "hours must be within [1, 720]", http.StatusBadRequest)
			return
		}
		hours = n
	}

	stats, err := c.store.StatsByWindow(r.Context(), workspaceID, time.Duration(hours)*time.Hour)
	if err != nil {
		c.logger.Error("Stats aggregation failed", "workspace_id", workspaceID, "error", err)
		http.Error(w, "Stats unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
