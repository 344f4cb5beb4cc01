// Package diag reports which optional integrations are configured. The
// server runs in degraded mode when provider or catalog keys are missing;
// this endpoint tells an operator (and the client UI) which features are
// live instead of leaving them to guess from silence.
package diag

import (
	"encoding/json"
	"net/http"
)

// Report describes the configured integration surface. Booleans only;
// keys and DSNs never leave the process.
type Report struct {
	STTProvider   string   `json:"sttProvider,omitempty"`
	LLMProvider   string   `json:"llmProvider,omitempty"`
	Transcription bool     `json:"transcription"`
	ModelPasses   bool     `json:"modelPasses"`
	MusicSources  []string `json:"musicSources"`
	EffectSources []string `json:"effectSources"`
}

// Handler serves the fixed report assembled at startup.
type Handler struct {
	report Report
}

// New creates a Handler for the given report.
func New(report Report) *Handler {
	if report.MusicSources == nil {
		report.MusicSources = []string{}
	}
	if report.EffectSources == nil {
		report.EffectSources = []string{}
	}
	return &Handler{report: report}
}

// Register mounts the diagnostics route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /diag", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(h.report); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
