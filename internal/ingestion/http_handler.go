package ingestion

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/api"
	"github.com/rpattn/labframe/internal/domain"
)

const maxUploadBytes = 32 << 20

// Handler exposes the importer as an HTTP endpoint.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHTTPHandler wraps the service with a POST endpoint accepting a
// multipart "file" field and an optional 0-based "header_row". GET on a path
// ending in /logs lists persisted row issues filtered by the "file" query.
func NewHTTPHandler(service *Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/logs"):
		h.handleListLogs(w, r)
	case r.Method == http.MethodPost:
		h.handleImport(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid limit: %v", err))
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid offset: %v", err))
		return
	}

	logs, err := h.service.ListLogs(r.Context(), query.Get("file"), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list import logs", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("file required: %v", err))
		return
	}
	defer file.Close()

	req := Request{
		FileName: header.Filename,
		Data:     file,
	}
	if raw := strings.TrimSpace(r.FormValue("header_row")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid header_row: %v", err))
			return
		}
		req.HeaderRowIndex = &index
	}

	summary, err := h.service.Import(r.Context(), req)
	if err != nil {
		switch domain.Classify(err) {
		case domain.KindStorage:
			h.logger.Error("Import aborted", zap.String("file", header.Filename), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "import failed")
		default:
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func parseOptionalInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := api.ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := api.WriteJSON(w, status, payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
