package importer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/zyliufeng123/zhiguan-system/internal/domain"
	"github.com/zyliufeng123/zhiguan-system/internal/repository"
	"github.com/zyliufeng123/zhiguan-system/internal/staging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service *Service
	store   *staging.Store
	logger  *zap.Logger
}

// NewHTTPHandler wraps the service and staging store.
func NewHTTPHandler(service *Service, store *staging.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, store: store, logger: logger}
}

// Register mounts the import routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/import/upload", h.upload)
	r.Post("/api/import/preview", h.preview)
	r.Post("/api/import", h.submit)
	r.Get("/api/import/tasks/{taskID}", h.status)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ref, err := h.store.Put(header.Filename, file)
	if err != nil {
		h.logger.Error("failed to stage upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stage upload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"data_ref": ref,
		"filename": header.Filename,
	})
}

type submitPayload struct {
	DataRef        string         `json:"data_ref"`
	ColumnMapping  domain.Mapping `json:"column_mapping"`
	ConflictMode   string         `json:"conflict_mode"`
	FallbackPeriod string         `json:"fallback_period,omitempty"`
	Limit          int            `json:"limit,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	task, err := h.service.Submit(r.Context(), SubmitRequest{
		DataRef:       payload.DataRef,
		Mapping:       payload.ColumnMapping,
		ConflictMode:  domain.ParseConflictMode(payload.ConflictMode),
		FallbackMonth: payload.FallbackPeriod,
	})
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit import")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID.String()})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	result, err := h.service.Preview(r.Context(), PreviewRequest{
		DataRef:       payload.DataRef,
		Mapping:       payload.ColumnMapping,
		ConflictMode:  domain.ParseConflictMode(payload.ConflictMode),
		FallbackMonth: payload.FallbackPeriod,
		Limit:         payload.Limit,
	})
	if err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to preview import", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to preview import")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	status, err := h.service.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("failed to load task status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// isValidation classifies errors that should surface as a 400 instead of
// a 500: malformed mappings, unresolvable data refs, unusable files.
func isValidation(err error) bool {
	return errors.Is(err, domain.ErrMappingNameColumn) ||
		errors.Is(err, domain.ErrMappingValueGroups) ||
		errors.Is(err, staging.ErrNotStaged) ||
		errors.Is(err, ErrUnsupportedFormat)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
