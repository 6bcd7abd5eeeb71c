// Package api translates HTTP requests into sample service calls.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/samples"
)

const defaultHistoryLimit = samples.DefaultHistoryLimit

// SampleService is the domain surface the handlers call.
type SampleService interface {
	CreateSampleFromTemplate(ctx context.Context, input samples.CreateSampleInput, templateID *int64) (samples.CreateResult, error)
	GetSample(ctx context.Context, id int64) (domain.SampleSnapshot, error)
	ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error)
	DeleteSample(ctx context.Context, id int64) (domain.Sample, error)
	RecordParameters(ctx context.Context, sampleID int64, assignments []samples.ParameterAssignment) (domain.SampleSnapshot, error)
	GetSampleParameterValues(ctx context.Context, sampleID int64) ([]domain.SampleParameterValue, error)
	ListParameterDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error)
	ListParameterValueHistory(ctx context.Context, name string, limit int) ([]domain.ParameterHistoryEntry, error)
}

// Handler serves the sample and parameter endpoints.
type Handler struct {
	service SampleService
	logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(service SampleService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /samples", h.ListSamples)
	mux.HandleFunc("POST /samples", h.CreateSample)
	mux.HandleFunc("GET /samples/{id}", h.GetSample)
	mux.HandleFunc("DELETE /samples/{id}", h.DeleteSample)
	mux.HandleFunc("GET /samples/{id}/parameters", h.ListSampleParameters)
	mux.HandleFunc("POST /samples/{id}/parameters", h.RecordParameters)

	mux.HandleFunc("GET /parameters/definitions", h.ListParameterDefinitions)
	mux.HandleFunc("GET /parameters/{name}/history", h.ParameterHistory)
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListSamples handles GET /samples?include_deleted=
func (h *Handler) ListSamples(w http.ResponseWriter, r *http.Request) {
	includeDeleted := false
	if raw := r.URL.Query().Get("include_deleted"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(w, "include_deleted must be a boolean")
			return
		}
		includeDeleted = parsed
	}

	list, err := h.service.ListSamples(r.Context(), includeDeleted)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, toSampleResponses(list))
}

// GetSample handles GET /samples/{id}
func (h *Handler) GetSample(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sampleID(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.GetSample(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, toSampleDetail(snapshot))
}

// CreateSample handles POST /samples. A template copy that cannot be applied
// is reported in warnings and does not fail the request.
func (h *Handler) CreateSample(w http.ResponseWriter, r *http.Request) {
	var req CreateSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PreparedOn) == "" {
		h.badRequest(w, "prepared_on is required")
		return
	}
	preparedOn, err := domain.ParseDate(req.PreparedOn)
	if err != nil {
		h.badRequest(w, "prepared_on must be a YYYY-MM-DD date")
		return
	}

	var templateID *int64
	if req.CopyParameters {
		templateID = req.TemplateSampleID
	}

	result, err := h.service.CreateSampleFromTemplate(r.Context(), samples.CreateSampleInput{
		PreparedOn: preparedOn,
		AuthorName: req.AuthorName,
	}, templateID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	h.respond(w, http.StatusCreated, CreateSampleResponse{
		Sample:           toSampleDetail(result.Sample),
		CopiedParameters: result.CopiedParameters,
		Warnings:         warnings,
	})
}

// DeleteSample handles DELETE /samples/{id}
func (h *Handler) DeleteSample(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sampleID(w, r)
	if !ok {
		return
	}

	sample, err := h.service.DeleteSample(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, toSampleResponse(sample))
}

// RecordParameters handles POST /samples/{id}/parameters
func (h *Handler) RecordParameters(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sampleID(w, r)
	if !ok {
		return
	}

	var req RecordParametersRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}

	assignments := make([]samples.ParameterAssignment, len(req.Parameters))
	for i, p := range req.Parameters {
		assignments[i] = samples.ParameterAssignment{Name: p.Name, Value: p.Value}
	}

	snapshot, err := h.service.RecordParameters(r.Context(), id, assignments)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, RecordParametersResponse{Sample: toSampleDetail(snapshot)})
}

// ListSampleParameters handles GET /samples/{id}/parameters
func (h *Handler) ListSampleParameters(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sampleID(w, r)
	if !ok {
		return
	}

	values, err := h.service.GetSampleParameterValues(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, toValueResponses(values))
}

// ListParameterDefinitions handles GET /parameters/definitions
func (h *Handler) ListParameterDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := h.service.ListParameterDefinitions(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, defs)
}

// ParameterHistory handles GET /parameters/{name}/history?limit=
func (h *Handler) ParameterHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(w, "limit must be an integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.ListParameterValueHistory(r.Context(), r.PathValue("name"), limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, toHistoryResponses(entries))
}

func (h *Handler) sampleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		h.badRequest(w, "sample id must be a positive integer")
		return 0, false
	}
	return id, true
}
