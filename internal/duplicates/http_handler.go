package duplicates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/domain"
)

// SourceFunc picks the record source for one request. Wiring code uses it
// to hand the scanner a request-scoped batching loader when one is present.
type SourceFunc func(ctx context.Context) RecordSource

// Handler exposes the duplicate scan over HTTP.
type Handler struct {
	source SourceFunc
	opts   []Option
}

// NewHTTPHandler builds a handler. The scanner itself is cheap; one is
// constructed per request around the source the factory picks.
func NewHTTPHandler(source SourceFunc, opts ...Option) http.Handler {
	return &Handler{source: source, opts: opts}
}

type scanPayload struct {
	ProjectID string                 `json:"projectId"`
	Entities  []domain.TrackedEntity `json:"entities"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var payload scanPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(payload.ProjectID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}

	var source RecordSource
	if h.source != nil {
		source = h.source(r.Context())
	}
	groups, err := NewService(source, h.opts...).Detect(r.Context(), projectID, payload.Entities)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []domain.DuplicateGroup{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(groups)
}
