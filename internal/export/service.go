package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/ingestion"
)

// Format selects the encoding of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Samples"

// ParseFormat maps a query value onto a Format. Blank means CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	default:
		return "", domain.NewDomainError("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type written for the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Source is the read side of the sample service.
type Source interface {
	ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error)
	GetSampleParameterValues(ctx context.Context, sampleID int64) ([]domain.SampleParameterValue, error)
	ListParameterDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error)
}

// Service renders the current parameter values of every sample as one wide
// table: a sample_id column followed by one column per parameter. The layout
// matches what the importer reads, so an export can be edited and uploaded
// again.
type Service struct {
	source Source
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock overrides the clock used for file names.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(source Source, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{source: source, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request selects what gets exported.
type Request struct {
	Format         Format
	IncludeDeleted bool
}

// Result describes a finished export.
type Result struct {
	FileName string
	Columns  []string
	Rows     int
}

// Export writes the table to w.
func (s *Service) Export(ctx context.Context, w io.Writer, req Request) (Result, error) {
	table, err := s.buildTable(ctx, req.IncludeDeleted)
	if err != nil {
		return Result{}, err
	}

	format := req.Format
	if format == "" {
		format = FormatCSV
	}
	switch format {
	case FormatCSV:
		err = writeCSV(w, table)
	case FormatXLSX:
		err = writeXLSX(w, table)
	default:
		return Result{}, domain.NewDomainError("unsupported export format %q", format)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to write %s export: %w", format, err)
	}

	result := Result{
		FileName: s.FileName(format),
		Columns:  table[0],
		Rows:     len(table) - 1,
	}
	s.logger.Info("Exported samples",
		zap.String("format", string(format)),
		zap.Int("rows", result.Rows),
		zap.Int("columns", len(result.Columns)),
	)
	return result, nil
}

// FileName returns the attachment name for an export produced now.
func (s *Service) FileName(format Format) string {
	stamp := s.now().UTC().Format("20060102-150405")
	return fmt.Sprintf("%s-%s.%s", sanitizeFileComponent("samples"), stamp, format)
}

// buildTable returns the header row followed by one row per sample. Columns
// cover the catalog plus any parameter still stored on a sample after it left
// the catalog.
func (s *Service) buildTable(ctx context.Context, includeDeleted bool) ([][]string, error) {
	defs, err := s.source.ListParameterDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.source.ListSamples(ctx, includeDeleted)
	if err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		names[def.Name] = struct{}{}
	}

	values := make([]map[string]string, len(list))
	for i, sample := range list {
		current, err := s.source.GetSampleParameterValues(ctx, sample.ID)
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(current))
		for _, value := range current {
			row[value.ParameterName] = formatValue(value.Value)
			names[value.ParameterName] = struct{}{}
		}
		values[i] = row
	}

	columns := make([]string, 0, len(names))
	for name := range names {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	header := append([]string{ingestion.SampleIDColumn}, columns...)
	table := make([][]string, 0, len(list)+1)
	table = append(table, header)
	for i, sample := range list {
		record := make([]string, len(header))
		record[0] = strconv.FormatInt(sample.ID, 10)
		for j, name := range columns {
			record[j+1] = values[i][name]
		}
		table = append(table, record)
	}
	return table, nil
}

func writeCSV(w io.Writer, table [][]string) error {
	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.WriteAll(table); err != nil {
		return err
	}
	return buffered.Flush()
}

func writeXLSX(w io.Writer, table [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	for i, record := range table {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(record))
		for j, value := range record {
			row[j] = value
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// formatValue renders a value the way the importer parses it back.
func formatValue(value domain.ParameterValue) string {
	if value.IsZero() {
		return ""
	}
	return value.String()
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
