package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/labframe/internal/domain"
)

// Compile-time contract assertions.
var (
	_ SampleRepository     = (*MemoryStore)(nil)
	_ DefinitionRepository = (*MemoryStore)(nil)
	_ ImportLogRepository  = (*MemoryStore)(nil)
)

// MemoryStore is an in-process implementation of both repositories used by
// tests and by the "memory" storage driver. A single mutex serializes all
// writes, which trivially satisfies per-sample write serialization.
type MemoryStore struct {
	mu          sync.RWMutex
	now         func() time.Time
	nextSample  int64
	nextHistory int64
	samples     map[int64]domain.Sample
	values      map[int64]map[string]domain.SampleParameterValue
	history     []domain.ParameterHistoryEntry
	definitions map[string]domain.ParameterDefinition
	importLogs  []domain.ImportLogEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		samples:     make(map[int64]domain.Sample),
		values:      make(map[int64]map[string]domain.SampleParameterValue),
		definitions: make(map[string]domain.ParameterDefinition),
	}
}

func (s *MemoryStore) CreateSample(ctx context.Context, sample domain.NewSample) (domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := sample.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	s.nextSample++
	row := domain.Sample{
		ID:         s.nextSample,
		PreparedOn: domain.TruncateDate(sample.PreparedOn),
		AuthorName: cloneString(sample.AuthorName),
		Version:    1,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	s.samples[row.ID] = row
	return cloneSample(row), nil
}

func (s *MemoryStore) GetSample(ctx context.Context, id int64, includeDeleted bool) (domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.samples[id]
	if !ok || (row.Deleted && !includeDeleted) {
		return domain.Sample{}, ErrNotFound
	}
	return cloneSample(row), nil
}

func (s *MemoryStore) ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sample, 0, len(s.samples))
	for _, row := range s.samples {
		if row.Deleted && !includeDeleted {
			continue
		}
		result = append(result, cloneSample(row))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) SoftDeleteSample(ctx context.Context, id int64) (domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.samples[id]
	if !ok {
		return domain.Sample{}, ErrNotFound
	}
	if !row.Deleted {
		row.Deleted = true
		row.Version++
		row.UpdatedAt = s.now()
		s.samples[id] = row
	}
	return cloneSample(row), nil
}

func (s *MemoryStore) UpsertParameterValue(ctx context.Context, sampleID int64, write domain.ParameterWrite) error {
	_, err := s.UpsertParameterValues(ctx, sampleID, []domain.ParameterWrite{write})
	return err
}

func (s *MemoryStore) UpsertParameterValues(ctx context.Context, sampleID int64, writes []domain.ParameterWrite) (domain.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.samples[sampleID]
	if !ok || row.Deleted {
		return domain.Sample{}, ErrNotFound
	}

	current := s.values[sampleID]
	if current == nil {
		current = make(map[string]domain.SampleParameterValue)
		s.values[sampleID] = current
	}

	touched := s.now()
	for _, write := range writes {
		recordedAt := write.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = touched
		}
		current[write.ParameterName] = domain.SampleParameterValue{
			SampleID:      sampleID,
			ParameterName: write.ParameterName,
			Value:         write.Value,
			RecordedAt:    recordedAt,
		}
		s.nextHistory++
		s.history = append(s.history, domain.ParameterHistoryEntry{
			ID:            s.nextHistory,
			SampleID:      sampleID,
			ParameterName: write.ParameterName,
			Value:         write.Value,
			RecordedAt:    recordedAt,
		})
	}

	row.Version++
	row.UpdatedAt = touched
	s.samples[sampleID] = row
	return cloneSample(row), nil
}

func (s *MemoryStore) ListCurrentValues(ctx context.Context, sampleID int64) (map[string]domain.SampleParameterValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.SampleParameterValue, len(s.values[sampleID]))
	for name, value := range s.values[sampleID] {
		result[name] = value
	}
	return result, nil
}

func (s *MemoryStore) ListHistory(ctx context.Context, parameterName string, limit int) ([]domain.ParameterHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.ParameterHistoryEntry
	for _, entry := range s.history {
		if entry.ParameterName == parameterName {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].RecordedAt.Equal(matched[j].RecordedAt) {
			return matched[i].RecordedAt.After(matched[j].RecordedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[name]
	if !ok {
		return domain.ParameterDefinition{}, ErrNotFound
	}
	return cloneDefinition(def), nil
}

func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ParameterDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		result = append(result, cloneDefinition(def))
	}
	domain.SortDefinitions(result)
	return result, nil
}

func (s *MemoryStore) UpsertDefinitions(ctx context.Context, defs []domain.ParameterDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range defs {
		s.definitions[def.Name] = cloneDefinition(def)
	}
	return nil
}

func (s *MemoryStore) RecordImportLog(ctx context.Context, entry domain.ImportLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.importLogs = append(s.importLogs, cloneImportLog(entry))
	return nil
}

func (s *MemoryStore) ListImportLogs(ctx context.Context, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit, offset = normalizePage(limit, offset)
	result := []domain.ImportLogEntry{}
	for i := len(s.importLogs) - 1; i >= 0; i-- {
		entry := s.importLogs[i]
		if fileName != "" && entry.FileName != fileName {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		result = append(result, cloneImportLog(entry))
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// DeleteDefinition removes a definition. Only the memory store supports it;
// it exists so tests can model a catalog that changed after values were
// recorded.
func (s *MemoryStore) DeleteDefinition(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, name)
}

func cloneSample(sample domain.Sample) domain.Sample {
	sample.AuthorName = cloneString(sample.AuthorName)
	return sample
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneDefinition(def domain.ParameterDefinition) domain.ParameterDefinition {
	if def.Minimum != nil {
		minimum := *def.Minimum
		def.Minimum = &minimum
	}
	if def.Maximum != nil {
		maximum := *def.Maximum
		def.Maximum = &maximum
	}
	if def.AllowedValues != nil {
		def.AllowedValues = append([]string(nil), def.AllowedValues...)
	}
	return def
}

func cloneImportLog(entry domain.ImportLogEntry) domain.ImportLogEntry {
	if entry.RowNumber != nil {
		row := *entry.RowNumber
		entry.RowNumber = &row
	}
	if entry.SampleID != nil {
		id := *entry.SampleID
		entry.SampleID = &id
	}
	return entry
}
