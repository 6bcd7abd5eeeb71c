package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/labframe/internal/catalog"
	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/repository"
	"github.com/rpattn/labframe/internal/samples"
)

func newLoggedService(t *testing.T) (*Service, *repository.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cat := catalog.New(store, nil)
	if err := cat.Seed(ctx, []domain.ParameterDefinition{
		{Name: "ph", ValueType: domain.ValueTypeNumeric, Minimum: floatPtr(0), Maximum: floatPtr(14)},
	}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	sampleService := samples.NewService(store, cat, nil)
	if _, err := sampleService.CreateSample(ctx, samples.CreateSampleInput{PreparedOn: time.Now()}); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	return NewService(sampleService, nil, WithImportLog(store)), store
}

func TestImportRecordsRejectedRows(t *testing.T) {
	importer, _ := newLoggedService(t)
	ctx := context.Background()

	data := "sample_id,ph\n1,7\n1,21\n7,7\n"
	summary, err := importer.Import(ctx, Request{FileName: "march.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if summary.InvalidRows != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if _, err := importer.Import(ctx, Request{FileName: "april.csv", Data: strings.NewReader("sample_id,ph\nx,7\n")}); err != nil {
		t.Fatalf("import returned error: %v", err)
	}

	logs, err := importer.ListLogs(ctx, "march.csv", 0, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].RowNumber == nil || *logs[0].RowNumber != 4 {
		t.Fatalf("newest entry should be row 4, got %+v", logs[0])
	}
	if logs[0].SampleID == nil || *logs[0].SampleID != 7 {
		t.Fatalf("expected sample id 7, got %+v", logs[0])
	}
	if logs[1].SampleID == nil || *logs[1].SampleID != 1 || !strings.Contains(logs[1].ErrorMessage, "ph") {
		t.Fatalf("unexpected entry %+v", logs[1])
	}

	all, err := importer.ListLogs(ctx, "", 10, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 entries across files, got %d (%v)", len(all), err)
	}
	if all[0].FileName != "april.csv" || all[0].SampleID != nil {
		t.Fatalf("unexpected newest entry %+v", all[0])
	}

	page, err := importer.ListLogs(ctx, "", 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != all[1].ID {
		t.Fatalf("unexpected page %+v (%v)", page, err)
	}
}

func TestListLogsWithoutImportLog(t *testing.T) {
	importer, _ := newTestService(t)
	logs, err := importer.ListLogs(context.Background(), "", 10, 0)
	if err != nil || logs == nil || len(logs) != 0 {
		t.Fatalf("expected empty list, got %v (%v)", logs, err)
	}
}

func TestHTTPHandlerImportAndLogs(t *testing.T) {
	importer, _ := newLoggedService(t)
	handler := NewHTTPHandler(importer, nil)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("sample_id,ph\n1,6.5\n1,-3\n")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/samples/import", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ValidRows != 1 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/samples/import/logs?file=upload.csv", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var logs []domain.ImportLogEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs) != 1 || logs[0].RowNumber == nil || *logs[0].RowNumber != 3 {
		t.Fatalf("unexpected logs %+v", logs)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/samples/import/logs?limit=ten", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/samples/import", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
