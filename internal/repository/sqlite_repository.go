package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/labframe/internal/domain"
)

// sqliteTimeLayout is fixed width so lexical ordering of stored timestamps
// matches chronological ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements both repositories on a SQLite database. The handle is
// expected to allow a single open connection, which makes SQLite serialize
// writers and gives every UpsertParameterValues call exclusive access.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ SampleRepository     = (*SQLiteStore)(nil)
	_ DefinitionRepository = (*SQLiteStore)(nil)
	_ ImportLogRepository  = (*SQLiteStore)(nil)
)

// NewSQLiteStore wraps an open SQLite handle whose schema is already migrated.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) CreateSample(ctx context.Context, sample domain.NewSample) (domain.Sample, error) {
	createdAt := sample.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	stamp := formatSQLiteTime(createdAt)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO samples (prepared_on, author_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		domain.TruncateDate(sample.PreparedOn).Format(domain.DateLayout), nullableString(sample.AuthorName), stamp, stamp,
	)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("failed to create sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Sample{}, fmt.Errorf("failed to read sample id: %w", err)
	}
	return s.GetSample(ctx, id, true)
}

func (s *SQLiteStore) GetSample(ctx context.Context, id int64, includeDeleted bool) (domain.Sample, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sampleColumns+`
		FROM samples
		WHERE id = ? AND (? OR deleted = 0)`,
		id, includeDeleted,
	)
	sample, err := scanSQLiteSample(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sample{}, ErrNotFound
		}
		return domain.Sample{}, fmt.Errorf("failed to get sample: %w", err)
	}
	return sample, nil
}

func (s *SQLiteStore) ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sampleColumns+`
		FROM samples
		WHERE ? OR deleted = 0
		ORDER BY id ASC`,
		includeDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	samples := []domain.Sample{}
	for rows.Next() {
		sample, err := scanSQLiteSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return samples, nil
}

func (s *SQLiteStore) SoftDeleteSample(ctx context.Context, id int64) (domain.Sample, error) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE samples
		SET deleted = 1, version = version + 1, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		formatSQLiteTime(s.now()), id,
	); err != nil {
		return domain.Sample{}, fmt.Errorf("failed to delete sample: %w", err)
	}
	return s.GetSample(ctx, id, true)
}

func (s *SQLiteStore) UpsertParameterValue(ctx context.Context, sampleID int64, write domain.ParameterWrite) error {
	_, err := s.UpsertParameterValues(ctx, sampleID, []domain.ParameterWrite{write})
	return err
}

func (s *SQLiteStore) UpsertParameterValues(ctx context.Context, sampleID int64, writes []domain.ParameterWrite) (domain.Sample, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("failed to open transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var deleted bool
	err = tx.QueryRowContext(ctx, `SELECT deleted FROM samples WHERE id = ?`, sampleID).Scan(&deleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sample{}, ErrNotFound
		}
		return domain.Sample{}, fmt.Errorf("failed to load sample: %w", err)
	}
	if deleted {
		return domain.Sample{}, ErrNotFound
	}

	now := s.now()
	for _, write := range writes {
		payload, err := write.Value.Encode()
		if err != nil {
			return domain.Sample{}, fmt.Errorf("failed to encode %s: %w", write.ParameterName, err)
		}
		recordedAt := write.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = now
		}
		stamp := formatSQLiteTime(recordedAt)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sample_parameter_values (sample_id, parameter_name, value_type, value, recorded_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (sample_id, parameter_name) DO UPDATE
			SET value_type = excluded.value_type,
			    value = excluded.value,
			    recorded_at = excluded.recorded_at`,
			sampleID, write.ParameterName, string(write.Value.Type()), string(payload), stamp,
		); err != nil {
			return domain.Sample{}, fmt.Errorf("failed to upsert parameter %s: %w", write.ParameterName, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parameter_value_history (sample_id, parameter_name, value_type, value, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			sampleID, write.ParameterName, string(write.Value.Type()), string(payload), stamp,
		); err != nil {
			return domain.Sample{}, fmt.Errorf("failed to append history for %s: %w", write.ParameterName, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE samples SET version = version + 1, updated_at = ? WHERE id = ?`,
		formatSQLiteTime(now), sampleID,
	); err != nil {
		return domain.Sample{}, fmt.Errorf("failed to touch sample: %w", err)
	}

	sample, err := scanSQLiteSample(tx.QueryRowContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE id = ?`, sampleID))
	if err != nil {
		return domain.Sample{}, fmt.Errorf("failed to reload sample: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Sample{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sample, nil
}

func (s *SQLiteStore) ListCurrentValues(ctx context.Context, sampleID int64) (map[string]domain.SampleParameterValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, parameter_name, value_type, value, recorded_at
		FROM sample_parameter_values
		WHERE sample_id = ?`,
		sampleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]domain.SampleParameterValue)
	for rows.Next() {
		var (
			value      domain.SampleParameterValue
			valueType  string
			payload    string
			recordedAt string
		)
		if err := rows.Scan(&value.SampleID, &value.ParameterName, &valueType, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan parameter value: %w", err)
		}
		if value.Value, err = domain.DecodeParameterValue(domain.ValueType(valueType), []byte(payload)); err != nil {
			return nil, fmt.Errorf("failed to decode parameter %s: %w", value.ParameterName, err)
		}
		if value.RecordedAt, err = parseSQLiteTime(recordedAt); err != nil {
			return nil, err
		}
		values[value.ParameterName] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parameter values: %w", err)
	}
	return values, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, parameterName string, limit int) ([]domain.ParameterHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sample_id, parameter_name, value_type, value, recorded_at
		FROM parameter_value_history
		WHERE parameter_name = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`,
		parameterName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter history: %w", err)
	}
	defer rows.Close()

	entries := []domain.ParameterHistoryEntry{}
	for rows.Next() {
		var (
			entry      domain.ParameterHistoryEntry
			valueType  string
			payload    string
			recordedAt string
		)
		if err := rows.Scan(&entry.ID, &entry.SampleID, &entry.ParameterName, &valueType, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if entry.Value, err = domain.DecodeParameterValue(domain.ValueType(valueType), []byte(payload)); err != nil {
			return nil, fmt.Errorf("failed to decode history entry %d: %w", entry.ID, err)
		}
		if entry.RecordedAt, err = parseSQLiteTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parameter history: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM parameter_definitions WHERE name = ?`, name)
	def, err := scanSQLiteDefinition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ParameterDefinition{}, ErrNotFound
		}
		return domain.ParameterDefinition{}, fmt.Errorf("failed to get parameter definition: %w", err)
	}
	return def, nil
}

func (s *SQLiteStore) ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM parameter_definitions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter definitions: %w", err)
	}
	defer rows.Close()

	defs := []domain.ParameterDefinition{}
	for rows.Next() {
		def, err := scanSQLiteDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan parameter definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parameter definitions: %w", err)
	}
	return defs, nil
}

func (s *SQLiteStore) UpsertDefinitions(ctx context.Context, defs []domain.ParameterDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, def := range defs {
		allowed, err := marshalAllowedValues(def.AllowedValues)
		if err != nil {
			return fmt.Errorf("failed to marshal allowed values for %s: %w", def.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO parameter_definitions (`+definitionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE
			SET value_type = excluded.value_type,
			    unit = excluded.unit,
			    description = excluded.description,
			    minimum = excluded.minimum,
			    maximum = excluded.maximum,
			    allowed_values = excluded.allowed_values,
			    max_length = excluded.max_length`,
			def.Name, string(def.ValueType), def.Unit, def.Description,
			nullableFloat(def.Minimum), nullableFloat(def.Maximum), string(allowed), def.MaxLength,
		); err != nil {
			return fmt.Errorf("failed to upsert parameter definition %s: %w", def.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordImportLog(ctx context.Context, entry domain.ImportLogEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var rowNumber, sampleID sql.NullInt64
	if entry.RowNumber != nil {
		rowNumber = sql.NullInt64{Int64: int64(*entry.RowNumber), Valid: true}
	}
	if entry.SampleID != nil {
		sampleID = sql.NullInt64{Int64: *entry.SampleID, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO import_logs (id, file_name, row_number, sample_id, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.FileName, rowNumber, sampleID, entry.ErrorMessage, formatSQLiteTime(createdAt),
	); err != nil {
		return fmt.Errorf("failed to record import log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListImportLogs(ctx context.Context, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_name, row_number, sample_id, error_message, created_at
		FROM import_logs
		WHERE ? = '' OR file_name = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?`,
		fileName, fileName, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ImportLogEntry{}
	for rows.Next() {
		var (
			entry     domain.ImportLogEntry
			id        string
			rowNumber sql.NullInt64
			sampleID  sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&id, &entry.FileName, &rowNumber, &sampleID, &entry.ErrorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid import log id %q: %w", id, err)
		}
		if entry.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
			return nil, err
		}
		if rowNumber.Valid {
			value := int(rowNumber.Int64)
			entry.RowNumber = &value
		}
		if sampleID.Valid {
			value := sampleID.Int64
			entry.SampleID = &value
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import logs: %w", err)
	}
	return logs, nil
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSample(row sqliteScanner) (domain.Sample, error) {
	var (
		sample     domain.Sample
		preparedOn string
		author     sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(&sample.ID, &preparedOn, &author, &sample.Deleted, &sample.Version, &createdAt, &updatedAt); err != nil {
		return domain.Sample{}, err
	}

	var err error
	if sample.PreparedOn, err = domain.ParseDate(preparedOn); err != nil {
		return domain.Sample{}, fmt.Errorf("invalid prepared_on %q: %w", preparedOn, err)
	}
	if sample.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return domain.Sample{}, err
	}
	if sample.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return domain.Sample{}, err
	}
	if author.Valid {
		name := author.String
		sample.AuthorName = &name
	}
	return sample, nil
}

func scanSQLiteDefinition(row sqliteScanner) (domain.ParameterDefinition, error) {
	var (
		def       domain.ParameterDefinition
		valueType string
		minimum   sql.NullFloat64
		maximum   sql.NullFloat64
		allowed   string
	)
	if err := row.Scan(&def.Name, &valueType, &def.Unit, &def.Description, &minimum, &maximum, &allowed, &def.MaxLength); err != nil {
		return domain.ParameterDefinition{}, err
	}
	def.ValueType = domain.ValueType(valueType)
	if minimum.Valid {
		def.Minimum = &minimum.Float64
	}
	if maximum.Valid {
		def.Maximum = &maximum.Float64
	}
	values, err := unmarshalAllowedValues([]byte(allowed))
	if err != nil {
		return domain.ParameterDefinition{}, fmt.Errorf("failed to unmarshal allowed values for %s: %w", def.Name, err)
	}
	def.AllowedValues = values
	return def, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", raw, err)
	}
	return t, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
