package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/db"
	"github.com/rpattn/labframe/internal/domain"
)

const sampleColumns = `id, prepared_on, author_name, deleted, version, created_at, updated_at`

// sampleRepository implements SampleRepository on PostgreSQL
type sampleRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewSampleRepository creates a new PostgreSQL sample repository
func NewSampleRepository(pool *pgxpool.Pool, logger *zap.Logger) SampleRepository {
	return &sampleRepository{pool: pool, logger: logger}
}

// CreateSample inserts a new sample row
func (r *sampleRepository) CreateSample(ctx context.Context, sample domain.NewSample) (domain.Sample, error) {
	createdAt := sample.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO samples (prepared_on, author_name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING `+sampleColumns,
		domain.TruncateDate(sample.PreparedOn), sample.AuthorName, createdAt,
	)
	created, err := scanSample(row)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("failed to create sample: %w", err)
	}
	return created, nil
}

// GetSample retrieves a sample by ID
func (r *sampleRepository) GetSample(ctx context.Context, id int64, includeDeleted bool) (domain.Sample, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sampleColumns+`
		FROM samples
		WHERE id = $1 AND ($2 OR NOT deleted)`,
		id, includeDeleted,
	)
	sample, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sample{}, ErrNotFound
		}
		return domain.Sample{}, fmt.Errorf("failed to get sample: %w", err)
	}
	return sample, nil
}

// ListSamples retrieves samples ordered by ID
func (r *sampleRepository) ListSamples(ctx context.Context, includeDeleted bool) ([]domain.Sample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sampleColumns+`
		FROM samples
		WHERE $1 OR NOT deleted
		ORDER BY id ASC`,
		includeDeleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	defer rows.Close()

	samples := []domain.Sample{}
	for rows.Next() {
		sample, err := scanSample(rows)
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

// SoftDeleteSample flags a sample as deleted; repeated calls are no-ops
func (r *sampleRepository) SoftDeleteSample(ctx context.Context, id int64) (domain.Sample, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE samples
		SET deleted = TRUE,
		    version = CASE WHEN deleted THEN version ELSE version + 1 END,
		    updated_at = CASE WHEN deleted THEN updated_at ELSE now() END
		WHERE id = $1
		RETURNING `+sampleColumns,
		id,
	)
	sample, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Sample{}, ErrNotFound
		}
		return domain.Sample{}, fmt.Errorf("failed to delete sample: %w", err)
	}
	return sample, nil
}

// UpsertParameterValue writes a single value
func (r *sampleRepository) UpsertParameterValue(ctx context.Context, sampleID int64, write domain.ParameterWrite) error {
	_, err := r.UpsertParameterValues(ctx, sampleID, []domain.ParameterWrite{write})
	return err
}

// UpsertParameterValues writes every value of one call inside a transaction
// holding the sample row lock, so concurrent writers on the same sample are
// serialized.
func (r *sampleRepository) UpsertParameterValues(ctx context.Context, sampleID int64, writes []domain.ParameterWrite) (domain.Sample, error) {
	var sample domain.Sample
	err := db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		var deleted bool
		err := tx.QueryRow(ctx, `SELECT deleted FROM samples WHERE id = $1 FOR UPDATE`, sampleID).Scan(&deleted)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock sample: %w", err)
		}
		if deleted {
			return ErrNotFound
		}

		now := time.Now()
		batch := &pgx.Batch{}
		for _, write := range writes {
			payload, err := write.Value.Encode()
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", write.ParameterName, err)
			}
			recordedAt := write.RecordedAt
			if recordedAt.IsZero() {
				recordedAt = now
			}
			batch.Queue(`
				INSERT INTO sample_parameter_values (sample_id, parameter_name, value_type, value, recorded_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (sample_id, parameter_name) DO UPDATE
				SET value_type = EXCLUDED.value_type,
				    value = EXCLUDED.value,
				    recorded_at = EXCLUDED.recorded_at`,
				sampleID, write.ParameterName, string(write.Value.Type()), payload, recordedAt,
			)
			batch.Queue(`
				INSERT INTO parameter_value_history (sample_id, parameter_name, value_type, value, recorded_at)
				VALUES ($1, $2, $3, $4, $5)`,
				sampleID, write.ParameterName, string(write.Value.Type()), payload, recordedAt,
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("failed to write parameter values: %w", err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("failed to write parameter values: %w", err)
		}

		row := tx.QueryRow(ctx, `
			UPDATE samples
			SET version = version + 1, updated_at = $2
			WHERE id = $1
			RETURNING `+sampleColumns,
			sampleID, now,
		)
		sample, err = scanSample(row)
		if err != nil {
			return fmt.Errorf("failed to touch sample: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Sample{}, err
	}
	return sample, nil
}

// ListCurrentValues returns the current value of every parameter of a sample
func (r *sampleRepository) ListCurrentValues(ctx context.Context, sampleID int64) (map[string]domain.SampleParameterValue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sample_id, parameter_name, value_type, value, recorded_at
		FROM sample_parameter_values
		WHERE sample_id = $1`,
		sampleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter values: %w", err)
	}
	defer rows.Close()

	values := make(map[string]domain.SampleParameterValue)
	for rows.Next() {
		var (
			value     domain.SampleParameterValue
			valueType string
			payload   []byte
		)
		if err := rows.Scan(&value.SampleID, &value.ParameterName, &valueType, &payload, &value.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan parameter value: %w", err)
		}
		decoded, err := domain.DecodeParameterValue(domain.ValueType(valueType), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode parameter %s: %w", value.ParameterName, err)
		}
		value.Value = decoded
		values[value.ParameterName] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parameter values: %w", err)
	}
	return values, nil
}

// ListHistory returns the newest history entries of a parameter across samples
func (r *sampleRepository) ListHistory(ctx context.Context, parameterName string, limit int) ([]domain.ParameterHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sample_id, parameter_name, value_type, value, recorded_at
		FROM parameter_value_history
		WHERE parameter_name = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`,
		parameterName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter history: %w", err)
	}
	defer rows.Close()

	entries := []domain.ParameterHistoryEntry{}
	for rows.Next() {
		var (
			entry     domain.ParameterHistoryEntry
			valueType string
			payload   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.SampleID, &entry.ParameterName, &valueType, &payload, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		decoded, err := domain.DecodeParameterValue(domain.ValueType(valueType), payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode history entry %d: %w", entry.ID, err)
		}
		entry.Value = decoded
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate parameter history: %w", err)
	}
	return entries, nil
}

func scanSample(row pgx.Row) (domain.Sample, error) {
	var (
		sample domain.Sample
		author pgtype.Text
	)
	if err := row.Scan(&sample.ID, &sample.PreparedOn, &author, &sample.Deleted, &sample.Version, &sample.CreatedAt, &sample.UpdatedAt); err != nil {
		return domain.Sample{}, err
	}
	if author.Valid {
		name := author.String
		sample.AuthorName = &name
	}
	return sample, nil
}
