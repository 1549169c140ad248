package mapping

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/c360studio/metahub/auth"
	"github.com/c360studio/metahub/payload"
)

// RegisterHTTPHandlers registers HTTP handlers for the transform component.
// The prefix includes the trailing slash (e.g., "/transform/").
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"preview", c.handlePreview)
}

// previewRequest mirrors the mapping editor's draft state.
type previewRequest struct {
	Mode         Mode             `json:"mode"`
	Rules        []Rule           `json:"rules,omitempty"`
	Template     string           `json:"template,omitempty"`
	StaticFields payload.Document `json:"static_fields,omitempty"`
	PassThrough  bool             `json:"pass_through"`
	Payload      json.RawMessage  `json:"payload"`
}

type previewResponse struct {
	Success    bool     `json:"success"`
	Output     any      `json:"output,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// handlePreview handles POST /transform/preview: run a draft mapping against
// a sample payload without persisting anything.
func (c *Component) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.auth == nil {
		http.Error(w, "Session verification not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := c.auth.UserFromRequest(r); err != nil {
		http.Error(w, err.Error(), auth.StatusFor(err))
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	c.previewsServed.Add(1)
	c.updateLastActivity()

	start := time.Now()
	resp := previewResponse{}

	doc, err := payload.Decode(req.Payload)
	if err != nil {
		resp.Error = "payload is not valid JSON"
		resp.DurationMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	m := &Mapping{
		Mode:         req.Mode,
		Rules:        req.Rules,
		Template:     req.Template,
		StaticFields: req.StaticFields,
		PassThrough:  req.PassThrough,
	}
	result, err := Apply(m, doc)
	resp.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Success = true
	resp.Output = result.Output
	resp.Warnings = result.Warnings
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
