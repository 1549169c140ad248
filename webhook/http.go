package webhook

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/delivery"
	"github.com/c360studio/metahub/logsink"
)

// maxEnvelopeBytes bounds inbound webhook bodies.
const maxEnvelopeBytes = 1 << 20

// RegisterHTTPHandlers registers HTTP handlers for the webhook component.
// The prefix includes the trailing slash (e.g., "/webhook/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"meta", c.handleMeta)
	mux.HandleFunc(prefix+"logs", c.handleLogs)
}

func (c *Component) handleMeta(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleChallenge(w, r)
	case http.MethodPost:
		c.handleEnvelope(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleChallenge answers Meta's subscription verification: echo the
// challenge iff the verify token matches.
func (c *Component) handleChallenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != c.config.VerifyToken {
		http.Error(w, "Verification failed", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleEnvelope processes a webhook post. Meta needs a quick 200; malformed
// envelopes are acknowledged as ignored rather than rejected so Meta does
// not retry garbage forever.
func (c *Component) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	if c.config.AppSecret != "" {
		if !verifySignature([]byte(c.config.AppSecret), body, r.Header.Get("X-Hub-Signature-256")) {
			c.logger.Warn("Webhook signature validation failed")
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Object == "" || len(env.Entry) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if c.store == nil {
		http.Error(w, "Receiver not available", http.StatusServiceUnavailable)
		return
	}

	result := c.ProcessEnvelope(r.Context(), &env)
	if result.Failed > 0 {
		// Enqueue failures must surface as a 500 so Meta retries the
		// envelope; the dedup mark is withheld so the retry passes through.
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    "error",
			"processed": result.Created,
			"failed":    result.Failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processed": result.Created,
	})
}

// verifySignature checks Meta's sha256= signature over the raw body.
func verifySignature(secret, body []byte, header string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(delivery.SignBody(secret, body))
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// handleLogs handles GET /webhook/logs?workspace_id=&level=&category=&q=&limit=.
func (c *Component) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.sink == nil {
		http.Error(w, "Log sink not available", http.StatusServiceUnavailable)
		return
	}
	if c.auth == nil {
		http.Error(w, "Session verification not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	workspaceID := q.Get("workspace_id")
	if workspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}
	if _, err := c.auth.RequireMember(r.Context(), r, workspaceID); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	query := logsink.Query{
		WorkspaceID: workspaceID,
		Level:       logsink.Level(q.Get("level")),
		Category:    logsink.Category(q.Get("category")),
		Contains:    q.Get("q"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		query.Limit = n
	}

	entries, err := c.sink.Query(r.Context(), query)
	if err != nil {
		c.logger.Error("Log query failed", "workspace_id", workspaceID, "error", err)
		http.Error(w, "Log query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*logsink.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
