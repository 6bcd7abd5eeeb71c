package export

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/api"
	"github.com/rpattn/labframe/internal/domain"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHTTPHandler serves GET /samples/export?format=csv|xlsx&include_deleted=true.
func NewHTTPHandler(service *Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	query := r.URL.Query()
	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	includeDeleted := false
	if raw := strings.TrimSpace(query.Get("include_deleted")); raw != "" {
		includeDeleted, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid include_deleted: %v", err))
			return
		}
	}

	// Render fully before writing headers so a failure can still become a
	// JSON error response.
	var buf bytes.Buffer
	result, err := h.service.Export(r.Context(), &buf, Request{Format: format, IncludeDeleted: includeDeleted})
	if err != nil {
		switch domain.Classify(err) {
		case domain.KindDomain:
			h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			h.logger.Error("Export failed", zap.String("format", string(format)), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "export failed")
		}
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("Failed to write export body", zap.String("file", result.FileName), zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := api.ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
