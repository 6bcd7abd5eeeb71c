package repository

import (
	"context"
	"errors"

	"github.com/rpattn/labframe/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist or is hidden by
// its soft-delete flag.
var ErrNotFound = errors.New("not found")

// SampleRepository defines durable storage of samples and their parameter
// values. Every write method is atomic per call.
type SampleRepository interface {
	CreateSample(ctx context.Context, sample domain.NewSample) (domain.Sample, error)
	GetSample(ctx context.Context, id int64, includeDeleted bool) (domain.Sample, error)
	ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error)
	SoftDeleteSample(ctx context.Context, id int64) (domain.Sample, error)

	// UpsertParameterValue replaces the current value and appends a history
	// entry in one unit.
	UpsertParameterValue(ctx context.Context, sampleID int64, write domain.ParameterWrite) error
	// UpsertParameterValues applies all writes inside a single transaction that
	// holds the sample's write lock, then bumps the sample's version. It fails
	// with ErrNotFound when the sample is missing or soft-deleted.
	UpsertParameterValues(ctx context.Context, sampleID int64, writes []domain.ParameterWrite) (domain.Sample, error)

	ListCurrentValues(ctx context.Context, sampleID int64) (map[string]domain.SampleParameterValue, error)
	ListHistory(ctx context.Context, parameterName string, limit int) ([]domain.ParameterHistoryEntry, error)
}

// DefinitionRepository stores the parameter catalog.
type DefinitionRepository interface {
	GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error)
	UpsertDefinitions(ctx context.Context, defs []domain.ParameterDefinition) error
}

// ImportLogRepository keeps the row level issues reported by imports. An
// empty file name lists entries of every file, newest first.
type ImportLogRepository interface {
	RecordImportLog(ctx context.Context, entry domain.ImportLogEntry) error
	ListImportLogs(ctx context.Context, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error)
}
