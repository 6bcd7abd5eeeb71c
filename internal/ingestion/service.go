package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/repository"
	"github.com/rpattn/labframe/internal/samples"
)

// SampleIDColumn is the header that identifies the target sample of a row.
const SampleIDColumn = "sample_id"

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Recorder persists one row of readings. samples.Service satisfies it.
type Recorder interface {
	RecordParameters(ctx context.Context, sampleID int64, assignments []samples.ParameterAssignment) (domain.SampleSnapshot, error)
}

// Service imports parameter readings from tabular files.
type Service struct {
	recorder  Recorder
	importLog repository.ImportLogRepository
	logger    *zap.Logger
}

type Option func(*Service)

// WithImportLog persists every rejected row so it can be reviewed after the
// upload response is gone.
func WithImportLog(log repository.ImportLogRepository) Option {
	return func(s *Service) {
		s.importLog = log
	}
}

// NewService creates a new ingestion service.
func NewService(recorder Recorder, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{recorder: recorder, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes the import input.
type Request struct {
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// RowError reports why a row was rejected. Row is 1-based and counts the
// header and any skipped lines.
type RowError struct {
	Row      int    `json:"row"`
	SampleID *int64 `json:"sample_id,omitempty"`
	Message  string `json:"message"`
}

// Summary returns import level metrics.
type Summary struct {
	TotalRows   int        `json:"total_rows"`
	ValidRows   int        `json:"valid_rows"`
	InvalidRows int        `json:"invalid_rows"`
	Parameters  []string   `json:"parameters"`
	Errors      []RowError `json:"errors"`
}

type tableData struct {
	headers        []string
	rows           [][]string
	rowNumbers     []int
	headerRowIndex int
}

// Import reads the uploaded file and records every data row against the
// sample named in its sample_id column. Each row is all-or-nothing. Rows
// rejected for unknown samples or invalid values are counted and reported;
// a storage failure aborts the import.
func (s *Service) Import(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		Parameters: []string{},
		Errors:     []RowError{},
	}

	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}

	idColumn := -1
	for idx, header := range table.headers {
		switch {
		case strings.EqualFold(header, SampleIDColumn):
			idColumn = idx
		case header != "":
			summary.Parameters = append(summary.Parameters, header)
		}
	}
	if idColumn < 0 {
		return summary, fmt.Errorf("missing %s column", SampleIDColumn)
	}
	if len(summary.Parameters) == 0 {
		return summary, errors.New("no parameter columns found")
	}

	summary.TotalRows = len(table.rows)

	for rowIdx, row := range table.rows {
		rowNumber := table.rowNumbers[rowIdx]

		rawID := strings.TrimSpace(row[idColumn])
		sampleID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			s.rowError(ctx, req.FileName, &summary, rowNumber, nil, fmt.Errorf("invalid %s %q", SampleIDColumn, rawID))
			continue
		}

		assignments := make([]samples.ParameterAssignment, 0, len(table.headers))
		for colIdx, header := range table.headers {
			if colIdx == idColumn || header == "" {
				continue
			}
			raw := strings.TrimSpace(row[colIdx])
			if raw == "" {
				continue
			}
			assignments = append(assignments, samples.ParameterAssignment{Name: header, Value: raw})
		}

		if _, err := s.recorder.RecordParameters(ctx, sampleID, assignments); err != nil {
			switch domain.Classify(err) {
			case domain.KindDomain, domain.KindUnknownSample:
				s.rowError(ctx, req.FileName, &summary, rowNumber, &sampleID, err)
				continue
			default:
				return summary, fmt.Errorf("row %d: %w", rowNumber, err)
			}
		}
		summary.ValidRows++
	}

	s.logger.Info("Imported parameter readings",
		zap.String("file", req.FileName),
		zap.Int("total_rows", summary.TotalRows),
		zap.Int("valid_rows", summary.ValidRows),
		zap.Int("invalid_rows", summary.InvalidRows),
	)
	return summary, nil
}

// ListLogs returns persisted row issues, newest first. Without an import log
// configured the list is always empty.
func (s *Service) ListLogs(ctx context.Context, fileName string, limit, offset int) ([]domain.ImportLogEntry, error) {
	if s.importLog == nil {
		return []domain.ImportLogEntry{}, nil
	}
	logs, err := s.importLog.ListImportLogs(ctx, strings.TrimSpace(fileName), limit, offset)
	if err != nil {
		return nil, &domain.StorageError{Op: "list import logs", Err: err}
	}
	return logs, nil
}

func (s *Service) rowError(ctx context.Context, fileName string, summary *Summary, rowNumber int, sampleID *int64, err error) {
	summary.InvalidRows++
	summary.Errors = append(summary.Errors, RowError{Row: rowNumber, SampleID: sampleID, Message: err.Error()})
	s.logger.Debug("Rejected import row", zap.Int("row", rowNumber), zap.Error(err))

	if s.importLog == nil {
		return
	}
	row := rowNumber
	entry := domain.ImportLogEntry{
		ID:           uuid.New(),
		FileName:     fileName,
		RowNumber:    &row,
		SampleID:     sampleID,
		ErrorMessage: err.Error(),
	}
	if logErr := s.importLog.RecordImportLog(ctx, entry); logErr != nil {
		s.logger.Warn("Failed to record import log", zap.String("file", fileName), zap.Int("row", rowNumber), zap.Error(logErr))
	}
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	// csv.Reader drops blank lines, so each record keeps the file line it
	// started on for row numbers in reports.
	var (
		records [][]string
		lines   []int
	)
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return tableData{}, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := csvReader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}
	return normalizeTable(records, lines, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows, nil, headerRowIndex)
}

// normalizeTable picks the header row (the given index, or the first
// non-empty row) and keeps the non-empty rows below it padded to the header
// width. lines holds the 1-based file line of each record; when nil the
// record index is the line.
func normalizeTable(records [][]string, lines []int, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	headerIndex := -1
	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if isEmptyRow(records[*headerRowIndex]) {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerIndex = *headerRowIndex
	} else {
		for idx, row := range records {
			if !isEmptyRow(row) {
				headerIndex = idx
				break
			}
		}
	}
	if headerIndex < 0 {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers, err := sanitizeHeaders(records[headerIndex])
	if err != nil {
		return tableData{}, err
	}

	table := tableData{headers: headers, headerRowIndex: headerIndex}
	for idx := headerIndex + 1; idx < len(records); idx++ {
		row := padRow(records[idx], len(headers))
		if isEmptyRow(row) {
			continue
		}
		rowNumber := idx + 1
		if lines != nil {
			rowNumber = lines[idx]
		}
		table.rows = append(table.rows, row)
		table.rowNumbers = append(table.rowNumbers, rowNumber)
	}
	return table, nil
}

// sanitizeHeaders trims header cells. Blank headers mark ignored columns;
// repeated names are rejected because a row could not say which one wins.
func sanitizeHeaders(raw []string) ([]string, error) {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			continue
		}
		if strings.EqualFold(name, SampleIDColumn) {
			name = SampleIDColumn
		}
		if first, dup := seen[name]; dup {
			return nil, fmt.Errorf("column %q appears in columns %d and %d", name, first+1, idx+1)
		}
		seen[name] = idx
		headers[idx] = name
	}
	return headers, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
