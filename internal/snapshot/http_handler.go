package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/engsnap/internal/domain"
	"github.com/rpattn/engsnap/internal/repository"
)

// Handler exposes capture and version lifecycle over HTTP.
type Handler struct {
	service *Service
	repo    repository.SnapshotRepository
}

// NewHTTPHandler wraps the capture service and the store.
func NewHTTPHandler(service *Service, repo repository.SnapshotRepository) http.Handler {
	return &Handler{service: service, repo: repo}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/capture"):
		h.handleCapture(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/versions"):
		h.handleListVersions(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/records"):
		h.handleListRecords(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/versions/delete"):
		h.handleDeleteVersion(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/versions/rename"):
		h.handleRenameVersion(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/versions/official"):
		h.handleMarkOfficial(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type capturePayload struct {
	ProjectID   string                 `json:"projectId"`
	VersionName string                 `json:"versionName"`
	FileSource  string                 `json:"fileSource"`
	CapturedBy  string                 `json:"capturedBy"`
	Entities    []domain.TrackedEntity `json:"entities"`
}

func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload capturePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	projectID, err := uuid.Parse(strings.TrimSpace(payload.ProjectID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}

	summary, err := h.service.Capture(r.Context(), Request{
		ProjectID:   projectID,
		VersionName: strings.TrimSpace(payload.VersionName),
		FileSource:  payload.FileSource,
		CapturedBy:  payload.CapturedBy,
		Entities:    payload.Entities,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListVersions(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("projectId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}
	versions, err := h.repo.ListVersions(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	projectID, err := uuid.Parse(strings.TrimSpace(query.Get("projectId")))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return
	}
	versionName := strings.TrimSpace(query.Get("version"))
	if versionName == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	records, err := h.repo.ListByVersion(r.Context(), projectID, versionName, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type versionPayload struct {
	ProjectID   string `json:"projectId"`
	VersionName string `json:"versionName"`
	NewName     string `json:"newName"`
}

func (h *Handler) decodeVersionPayload(w http.ResponseWriter, r *http.Request) (uuid.UUID, versionPayload, bool) {
	defer r.Body.Close()
	var payload versionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return uuid.Nil, payload, false
	}
	projectID, err := uuid.Parse(strings.TrimSpace(payload.ProjectID))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid projectId: %v", err), http.StatusBadRequest)
		return uuid.Nil, payload, false
	}
	if strings.TrimSpace(payload.VersionName) == "" {
		http.Error(w, "versionName is required", http.StatusBadRequest)
		return uuid.Nil, payload, false
	}
	return projectID, payload, true
}

func (h *Handler) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	projectID, payload, ok := h.decodeVersionPayload(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteDraftVersion(r.Context(), projectID, payload.VersionName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": payload.VersionName})
}

func (h *Handler) handleRenameVersion(w http.ResponseWriter, r *http.Request) {
	projectID, payload, ok := h.decodeVersionPayload(w, r)
	if !ok {
		return
	}
	newName := strings.TrimSpace(payload.NewName)
	if newName == "" {
		http.Error(w, "newName is required", http.StatusBadRequest)
		return
	}
	if err := h.repo.RenameDraftVersion(r.Context(), projectID, payload.VersionName, newName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"renamed": payload.VersionName, "to": newName})
}

func (h *Handler) handleMarkOfficial(w http.ResponseWriter, r *http.Request) {
	projectID, payload, ok := h.decodeVersionPayload(w, r)
	if !ok {
		return
	}
	if err := h.repo.MarkOfficial(r.Context(), projectID, payload.VersionName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"official": payload.VersionName})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrVersionNotFound), errors.Is(err, repository.ErrRecordNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, repository.ErrVersionOfficial), errors.Is(err, repository.ErrVersionExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrProjectRequired), errors.Is(err, ErrVersionRequired), errors.Is(err, ErrNoEntities):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
