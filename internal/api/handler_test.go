package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/labframe/internal/catalog"
	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/repository"
	"github.com/rpattn/labframe/internal/samples"
)

func floatPtr(v float64) *float64 { return &v }

func newTestServer(t *testing.T) (*http.ServeMux, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	cat := catalog.New(store, nil)
	require.NoError(t, cat.Seed(context.Background(), []domain.ParameterDefinition{
		{Name: "tempC", ValueType: domain.ValueTypeNumeric, Minimum: floatPtr(-80), Maximum: floatPtr(150)},
		{Name: "ph", ValueType: domain.ValueTypeNumeric, Minimum: floatPtr(0), Maximum: floatPtr(14)},
		{Name: "replicates", ValueType: domain.ValueTypeInteger},
	}))

	mux := http.NewServeMux()
	NewHandler(samples.NewService(store, cat, nil), nil).RegisterRoutes(mux)
	return mux, store
}

func do(t *testing.T, mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := do(t, mux, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAndGetSample(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-28","author_name":"Ada"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateSampleResponse](t, rec)
	assert.Equal(t, int64(1), created.Sample.SampleID)
	assert.Equal(t, "2024-02-28", created.Sample.PreparedOn)
	assert.Equal(t, 0, created.CopiedParameters)
	assert.NotNil(t, created.Warnings)

	rec = do(t, mux, http.MethodGet, "/samples/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[SampleDetailResponse](t, rec)
	require.NotNil(t, detail.AuthorName)
	assert.Equal(t, "Ada", *detail.AuthorName)
	assert.Empty(t, detail.Parameters)

	rec = do(t, mux, http.MethodGet, "/samples/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["error"])
}

func TestCreateSampleValidation(t *testing.T) {
	mux, _ := newTestServer(t)

	for _, body := range []string{`{}`, `{"prepared_on":"28/02/2024"}`, `not json`} {
		rec := do(t, mux, http.MethodPost, "/samples", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCreateSampleWithTemplate(t *testing.T) {
	mux, _ := newTestServer(t)

	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-28"}`).Code)
	rec := do(t, mux, http.MethodPost, "/samples/1/parameters", `{"parameters":[{"name":"tempC","value":21.5},{"name":"replicates","value":3}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-29","template_sample_id":1,"copy_parameters":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[CreateSampleResponse](t, rec)
	assert.Equal(t, 2, created.CopiedParameters)
	assert.Len(t, created.Sample.Parameters, 2)

	rec = do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-29","template_sample_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 0, decode[CreateSampleResponse](t, rec).CopiedParameters, "copy requires copy_parameters")

	rec = do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-29","template_sample_id":77,"copy_parameters":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created = decode[CreateSampleResponse](t, rec)
	require.Len(t, created.Warnings, 1)
	assert.Contains(t, created.Warnings[0], "77")
}

func TestRecordParameters(t *testing.T) {
	mux, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-28"}`).Code)

	rec := do(t, mux, http.MethodPost, "/samples/1/parameters", `{"parameters":[{"name":"tempC","value":25},{"name":"replicates","value":9007199254740993}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "9007199254740993")

	rec = do(t, mux, http.MethodPost, "/samples/1/parameters", `{"parameters":[{"name":"tempC","value":30},{"name":"ph","value":"not-a-number"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodGet, "/samples/1/parameters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	values := decode[[]map[string]any](t, rec)
	require.Len(t, values, 2)
	assert.Equal(t, "replicates", values[0]["parameter_name"])
	assert.Equal(t, "tempC", values[1]["parameter_name"])
	assert.Equal(t, 25.0, values[1]["value"])

	rec = do(t, mux, http.MethodPost, "/samples/999/parameters", `{"parameters":[{"name":"tempC","value":25}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodGet, "/samples/999/parameters", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodGet, "/samples/abc/parameters", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteAndListSamples(t *testing.T) {
	mux, _ := newTestServer(t)
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-28"}`).Code)
	}

	rec := do(t, mux, http.MethodDelete, "/samples/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[SampleResponse](t, rec).Deleted)

	rec = do(t, mux, http.MethodGet, "/samples", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SampleResponse](t, rec), 1)

	rec = do(t, mux, http.MethodGet, "/samples?include_deleted=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SampleResponse](t, rec), 2)

	rec = do(t, mux, http.MethodGet, "/samples?include_deleted=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/samples/9", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParameterEndpoints(t *testing.T) {
	mux, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, do(t, mux, http.MethodPost, "/samples", `{"prepared_on":"2024-02-28"}`).Code)
	for _, v := range []string{"6", "7", "8"} {
		rec := do(t, mux, http.MethodPost, "/samples/1/parameters", `{"parameters":[{"name":"ph","value":`+v+`}]}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, mux, http.MethodGet, "/parameters/definitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	defs := decode[[]domain.ParameterDefinition](t, rec)
	require.Len(t, defs, 3)
	assert.Equal(t, "ph", defs[0].Name)

	rec = do(t, mux, http.MethodGet, "/parameters/ph/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]map[string]any](t, rec)
	require.Len(t, history, 2)
	assert.Equal(t, 8.0, history[0]["value"])

	rec = do(t, mux, http.MethodGet, "/parameters/ph/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	for _, target := range []string{
		"/parameters/ph/history?limit=0",
		"/parameters/ph/history?limit=ten",
		"/parameters/viscosity/history",
	} {
		rec = do(t, mux, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

type brokenService struct {
	SampleService
}

func (brokenService) ListSamples(context.Context, bool) ([]domain.Sample, error) {
	return nil, &domain.StorageError{Op: "list samples", Err: errors.New("password=hunter2 rejected")}
}

func TestStorageErrorsAreNotLeaked(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(brokenService{}, nil).RegisterRoutes(mux)

	rec := do(t, mux, http.MethodGet, "/samples", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Equal(t, "internal_error", decode[map[string]string](t, rec)["error"])
}
