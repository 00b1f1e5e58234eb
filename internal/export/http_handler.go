package export

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/comparison"
	"github.com/rpattn/engsnap/internal/domain"
)

// Handler streams report downloads. Version comparisons are computed
// server-side; live comparison results, restore outcomes, and duplicate
// scans are computed host-side and posted for formatting.
type Handler struct {
	service  *Service
	comparer *comparison.Service
	store    comparison.RecordStore
}

// NewHTTPHandler wraps the export service.
func NewHTTPHandler(service *Service, comparer *comparison.Service, store comparison.RecordStore) http.Handler {
	return &Handler{service: service, comparer: comparer, store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/comparison"):
		h.handleVersionComparison(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/comparison"):
		h.handlePostedComparison(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/outcome"):
		h.handleOutcome(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/duplicates"):
		h.handleDuplicates(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleVersionComparison(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(query.Get("projectId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}
	base := strings.TrimSpace(query.Get("baseVersion"))
	target := strings.TrimSpace(query.Get("targetVersion"))
	if base == "" || target == "" {
		http.Error(w, "baseVersion and targetVersion are required", http.StatusBadRequest)
		return
	}

	baseRecords, err := h.store.GetAllByVersion(r.Context(), projectID, base)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	targetRecords, err := h.store.GetAllByVersion(r.Context(), projectID, target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	items, err := h.comparer.CompareVersions(r.Context(), comparison.VersionRequest{
		Base:   baseRecords,
		Target: targetRecords,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	beginDownload(w, FileName("comparison", base+"-vs-"+target, format), format)
	if err := h.service.WriteComparison(w, format, items); err != nil {
		// Headers are already sent; nothing more to do than drop the stream.
		return
	}
}

type comparisonPayload struct {
	VersionName string                  `json:"versionName"`
	Items       []domain.ComparisonItem `json:"items"`
}

func (h *Handler) handlePostedComparison(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var payload comparisonPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	beginDownload(w, FileName("comparison", payload.VersionName, format), format)
	_ = h.service.WriteComparison(w, format, payload.Items)
}

type outcomePayload struct {
	VersionName string                `json:"versionName"`
	Outcome     domain.RestoreOutcome `json:"outcome"`
}

func (h *Handler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var payload outcomePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	beginDownload(w, FileName("restore-outcome", payload.VersionName, format), format)
	_ = h.service.WriteOutcome(w, format, payload.Outcome)
}

type duplicatesPayload struct {
	Groups []domain.DuplicateGroup `json:"groups"`
}

func (h *Handler) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	var payload duplicatesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	beginDownload(w, FileName("duplicates", "", format), format)
	_ = h.service.WriteDuplicates(w, format, payload.Groups)
}

func beginDownload(w http.ResponseWriter, fileName string, format Format) {
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
}
