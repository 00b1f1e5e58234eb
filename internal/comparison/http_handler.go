package comparison

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/repository"
)

// RecordStore loads the records a comparison runs against.
type RecordStore interface {
	GetAllByVersion(ctx context.Context, projectID uuid.UUID, versionName string) ([]domain.SnapshotRecord, error)
}

// Handler exposes comparison over HTTP. The live side of a comparison is
// posted by the host add-in; versions are loaded from the store.
type Handler struct {
	service *Service
	store   RecordStore
}

// NewHTTPHandler wraps the comparison service and the store.
func NewHTTPHandler(service *Service, store RecordStore) http.Handler {
	return &Handler{service: service, store: store}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/live"):
		h.handleLive(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/versions"):
		h.handleVersions(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type livePayload struct {
	ProjectID        string                 `json:"projectId"`
	VersionName      string                 `json:"versionName"`
	IncludeUnchanged bool                   `json:"includeUnchanged"`
	Entities         []domain.TrackedEntity `json:"entities"`
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload livePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(payload.ProjectID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}
	versionName := strings.TrimSpace(payload.VersionName)
	if versionName == "" {
		http.Error(w, "versionName is required", http.StatusBadRequest)
		return
	}

	records, err := h.store.GetAllByVersion(r.Context(), projectID, versionName)
	if err != nil {
		writeCompareError(w, err)
		return
	}
	items, err := h.service.Compare(r.Context(), Request{
		Current:          payload.Entities,
		Records:          records,
		IncludeUnchanged: payload.IncludeUnchanged,
	})
	if err != nil {
		writeCompareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type versionsPayload struct {
	ProjectID        string `json:"projectId"`
	BaseVersion      string `json:"baseVersion"`
	TargetVersion    string `json:"targetVersion"`
	IncludeUnchanged bool   `json:"includeUnchanged"`
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload versionsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(payload.ProjectID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}
	base := strings.TrimSpace(payload.BaseVersion)
	target := strings.TrimSpace(payload.TargetVersion)
	if base == "" || target == "" {
		http.Error(w, "baseVersion and targetVersion are required", http.StatusBadRequest)
		return
	}

	baseRecords, err := h.store.GetAllByVersion(r.Context(), projectID, base)
	if err != nil {
		writeCompareError(w, err)
		return
	}
	targetRecords, err := h.store.GetAllByVersion(r.Context(), projectID, target)
	if err != nil {
		writeCompareError(w, err)
		return
	}
	items, err := h.service.CompareVersions(r.Context(), VersionRequest{
		Base:             baseRecords,
		Target:           targetRecords,
		IncludeUnchanged: payload.IncludeUnchanged,
	})
	if err != nil {
		writeCompareError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeCompareError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrVersionNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
