// Package samples implements sample creation, parameter recording, template
// copying and history queries on top of the catalog and sample repository.
package samples

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/repository"
)

const (
	// DefaultHistoryLimit is the history page size when the caller gives none.
	DefaultHistoryLimit = 25
	// MaxHistoryLimit is the default history ceiling. Larger limits are clamped.
	MaxHistoryLimit = 200
)

// ParameterCatalog is the catalog surface the service depends on.
type ParameterCatalog interface {
	GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error)
	ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error)
	Validate(ctx context.Context, name string, raw any) (domain.ParameterValue, error)
}

// Service orchestrates sample and parameter operations. It holds no state
// between calls.
type Service struct {
	repo            repository.SampleRepository
	catalog         ParameterCatalog
	logger          *zap.Logger
	now             func() time.Time
	historyMax      int
	futureTolerance *time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source used for timestamps and date checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHistoryMaxLimit sets the ceiling applied to history queries.
func WithHistoryMaxLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.historyMax = limit
		}
	}
}

// WithPreparedOnTolerance rejects prepared_on dates later than today plus
// tolerance. Without this option any date is accepted.
func WithPreparedOnTolerance(tolerance time.Duration) Option {
	return func(s *Service) {
		if tolerance < 0 {
			tolerance = 0
		}
		s.futureTolerance = &tolerance
	}
}

// NewService wires the service to its collaborators.
func NewService(repo repository.SampleRepository, catalog ParameterCatalog, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:       repo,
		catalog:    catalog,
		logger:     logger,
		now:        time.Now,
		historyMax: MaxHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSampleInput carries the caller supplied sample fields.
type CreateSampleInput struct {
	PreparedOn time.Time
	AuthorName *string
}

// CreateResult is the outcome of creating a sample with an optional
// template copy.
type CreateResult struct {
	Sample           domain.SampleSnapshot
	CopiedParameters int
	Warnings         []string
}

// ParameterAssignment is one raw (name, value) pair of a record call.
type ParameterAssignment struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// CopyResult reports a template copy. Warnings hold one entry per skipped
// parameter in source order.
type CopyResult struct {
	Sample   domain.SampleSnapshot
	Applied  int
	Warnings []string
}

// CreateSample validates the input and persists a new sample.
func (s *Service) CreateSample(ctx context.Context, input CreateSampleInput) (domain.Sample, error) {
	if input.PreparedOn.IsZero() {
		return domain.Sample{}, domain.NewDomainError("prepared_on is required")
	}
	preparedOn := domain.TruncateDate(input.PreparedOn)
	if s.futureTolerance != nil {
		latest := domain.TruncateDate(s.now()).Add(*s.futureTolerance)
		if preparedOn.After(latest) {
			return domain.Sample{}, domain.NewDomainError(
				"prepared_on %s is in the future", preparedOn.Format(domain.DateLayout))
		}
	}

	sample, err := s.repo.CreateSample(ctx, domain.NewSample{
		PreparedOn: preparedOn,
		AuthorName: domain.NormalizeAuthorName(input.AuthorName),
		CreatedAt:  s.now(),
	})
	if err != nil {
		return domain.Sample{}, &domain.StorageError{Op: "create sample", Err: err}
	}

	s.logger.Info("Created sample", zap.Int64("sample_id", sample.ID))
	return sample, nil
}

// CreateSampleFromTemplate creates a sample and, when templateID is set,
// copies the template's parameters onto it. A copy rejected for domain
// reasons becomes a warning since the sample already exists.
func (s *Service) CreateSampleFromTemplate(ctx context.Context, input CreateSampleInput, templateID *int64) (CreateResult, error) {
	sample, err := s.CreateSample(ctx, input)
	if err != nil {
		return CreateResult{}, err
	}

	result := CreateResult{
		Sample:   domain.SampleSnapshot{Sample: sample, Parameters: []domain.SampleParameterValue{}},
		Warnings: []string{},
	}
	if templateID == nil {
		return result, nil
	}

	copied, err := s.CopyParametersFromSample(ctx, *templateID, sample.ID)
	if err != nil {
		switch domain.Classify(err) {
		case domain.KindDomain, domain.KindUnknownSample:
			s.logger.Warn("Template copy skipped",
				zap.Int64("sample_id", sample.ID),
				zap.Int64("template_sample_id", *templateID),
				zap.Error(err),
			)
			result.Warnings = append(result.Warnings, err.Error())
			return result, nil
		default:
			return CreateResult{}, err
		}
	}

	result.Sample = copied.Sample
	result.CopiedParameters = copied.Applied
	result.Warnings = append(result.Warnings, copied.Warnings...)
	return result, nil
}

// GetSample returns a sample and its current values. Soft-deleted samples
// are included.
func (s *Service) GetSample(ctx context.Context, id int64) (domain.SampleSnapshot, error) {
	sample, err := s.loadSample(ctx, id, true)
	if err != nil {
		return domain.SampleSnapshot{}, err
	}
	return s.snapshot(ctx, sample)
}

// ListSamples returns samples ordered by id.
func (s *Service) ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error) {
	samples, err := s.repo.ListSamples(ctx, includeDeleted)
	if err != nil {
		return nil, &domain.StorageError{Op: "list samples", Err: err}
	}
	if samples == nil {
		samples = []domain.Sample{}
	}
	return samples, nil
}

// DeleteSample soft-deletes a sample. Deleting twice is not an error.
func (s *Service) DeleteSample(ctx context.Context, id int64) (domain.Sample, error) {
	sample, err := s.repo.SoftDeleteSample(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Sample{}, &domain.UnknownSampleError{SampleID: id}
		}
		return domain.Sample{}, &domain.StorageError{Op: "delete sample", Err: err}
	}
	s.logger.Info("Soft-deleted sample", zap.Int64("sample_id", id))
	return sample, nil
}

// RecordParameters validates every assignment and persists them together.
// Nothing is written if any assignment fails. When a name repeats, the last
// assignment wins and a single history entry is written for it.
func (s *Service) RecordParameters(ctx context.Context, sampleID int64, assignments []ParameterAssignment) (domain.SampleSnapshot, error) {
	sample, err := s.loadSample(ctx, sampleID, false)
	if err != nil {
		return domain.SampleSnapshot{}, err
	}
	if len(assignments) == 0 {
		return s.snapshot(ctx, sample)
	}

	values := make([]domain.ParameterValue, len(assignments))
	last := make(map[string]int, len(assignments))
	for i, assignment := range assignments {
		name := strings.TrimSpace(assignment.Name)
		value, err := s.catalog.Validate(ctx, name, assignment.Value)
		if err != nil {
			return domain.SampleSnapshot{}, err
		}
		values[i] = value
		last[name] = i
	}

	recordedAt := s.now()
	writes := make([]domain.ParameterWrite, 0, len(last))
	for i, assignment := range assignments {
		name := strings.TrimSpace(assignment.Name)
		if last[name] != i {
			continue
		}
		writes = append(writes, domain.ParameterWrite{
			ParameterName: name,
			Value:         values[i],
			RecordedAt:    recordedAt,
		})
	}

	updated, err := s.repo.UpsertParameterValues(ctx, sampleID, writes)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.SampleSnapshot{}, &domain.UnknownSampleError{SampleID: sampleID}
		}
		return domain.SampleSnapshot{}, &domain.StorageError{Op: "record parameters", Err: err}
	}

	s.logger.Debug("Recorded parameters",
		zap.Int64("sample_id", sampleID),
		zap.Int("values", len(writes)),
	)
	return s.snapshot(ctx, updated)
}

// CopyParametersFromSample revalidates the source's current values against
// the current catalog and writes the valid ones onto target in one unit.
func (s *Service) CopyParametersFromSample(ctx context.Context, sourceID, targetID int64) (CopyResult, error) {
	if sourceID == targetID {
		return CopyResult{}, &domain.DomainError{
			Reason: fmt.Sprintf("cannot copy parameters of sample %d onto itself", sourceID),
			Err:    domain.ErrInvalidCopySource,
		}
	}

	if _, err := s.repo.GetSample(ctx, sourceID, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return CopyResult{}, &domain.DomainError{
				Reason: fmt.Sprintf("template sample %d not found", sourceID),
				Err:    domain.ErrInvalidCopySource,
			}
		}
		return CopyResult{}, &domain.StorageError{Op: "get template sample", Err: err}
	}
	target, err := s.loadSample(ctx, targetID, false)
	if err != nil {
		return CopyResult{}, err
	}

	current, err := s.repo.ListCurrentValues(ctx, sourceID)
	if err != nil {
		return CopyResult{}, &domain.StorageError{Op: "list template values", Err: err}
	}
	sourceValues := sortedValues(current)

	recordedAt := s.now()
	warnings := []string{}
	writes := make([]domain.ParameterWrite, 0, len(sourceValues))
	for _, value := range sourceValues {
		validated, err := s.catalog.Validate(ctx, value.ParameterName, value.Value.Interface())
		if err != nil {
			if domain.Classify(err) != domain.KindDomain {
				return CopyResult{}, err
			}
			warnings = append(warnings, fmt.Sprintf("%s: %s", value.ParameterName, skipReason(err)))
			continue
		}
		writes = append(writes, domain.ParameterWrite{
			ParameterName: value.ParameterName,
			Value:         validated,
			RecordedAt:    recordedAt,
		})
	}

	if len(writes) > 0 {
		target, err = s.repo.UpsertParameterValues(ctx, targetID, writes)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return CopyResult{}, &domain.UnknownSampleError{SampleID: targetID}
			}
			return CopyResult{}, &domain.StorageError{Op: "copy parameters", Err: err}
		}
	}

	snapshot, err := s.snapshot(ctx, target)
	if err != nil {
		return CopyResult{}, err
	}

	s.logger.Info("Copied template parameters",
		zap.Int64("source_sample_id", sourceID),
		zap.Int64("target_sample_id", targetID),
		zap.Int("applied", len(writes)),
		zap.Int("skipped", len(warnings)),
	)
	return CopyResult{Sample: snapshot, Applied: len(writes), Warnings: warnings}, nil
}

// GetSampleParameterValues returns the current values of a sample ordered by
// parameter name. Soft-deleted samples are included.
func (s *Service) GetSampleParameterValues(ctx context.Context, sampleID int64) ([]domain.SampleParameterValue, error) {
	if _, err := s.loadSample(ctx, sampleID, true); err != nil {
		return nil, err
	}
	current, err := s.repo.ListCurrentValues(ctx, sampleID)
	if err != nil {
		return nil, &domain.StorageError{Op: "list parameter values", Err: err}
	}
	return sortedValues(current), nil
}

// ListParameterDefinitions returns the catalog ordered by name.
func (s *Service) ListParameterDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error) {
	defs, err := s.catalog.ListDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	if defs == nil {
		defs = []domain.ParameterDefinition{}
	}
	return defs, nil
}

// ListParameterValueHistory returns the newest writes of a parameter across
// all samples. The name must be in the catalog and limit must be positive;
// limits above the ceiling are clamped.
func (s *Service) ListParameterValueHistory(ctx context.Context, name string, limit int) ([]domain.ParameterHistoryEntry, error) {
	if limit < 1 {
		return nil, domain.NewDomainError("limit must be a positive integer")
	}
	if limit > s.historyMax {
		limit = s.historyMax
	}

	def, err := s.catalog.GetDefinition(ctx, name)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.ListHistory(ctx, def.Name, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "list parameter history", Err: err}
	}
	if entries == nil {
		entries = []domain.ParameterHistoryEntry{}
	}
	return entries, nil
}

func (s *Service) loadSample(ctx context.Context, id int64, includeDeleted bool) (domain.Sample, error) {
	sample, err := s.repo.GetSample(ctx, id, includeDeleted)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Sample{}, &domain.UnknownSampleError{SampleID: id}
		}
		return domain.Sample{}, &domain.StorageError{Op: "get sample", Err: err}
	}
	return sample, nil
}

func (s *Service) snapshot(ctx context.Context, sample domain.Sample) (domain.SampleSnapshot, error) {
	current, err := s.repo.ListCurrentValues(ctx, sample.ID)
	if err != nil {
		return domain.SampleSnapshot{}, &domain.StorageError{Op: "list parameter values", Err: err}
	}
	return domain.SampleSnapshot{Sample: sample, Parameters: sortedValues(current)}, nil
}

func sortedValues(current map[string]domain.SampleParameterValue) []domain.SampleParameterValue {
	values := make([]domain.SampleParameterValue, 0, len(current))
	for _, value := range current {
		values = append(values, value)
	}
	domain.SortParameterValues(values)
	return values
}

func skipReason(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}
	if errors.Is(err, domain.ErrUnknownParameter) {
		return "parameter is no longer defined in the catalog"
	}
	return err.Error()
}
