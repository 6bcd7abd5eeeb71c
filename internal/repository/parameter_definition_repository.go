package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rpattn/labframe/internal/db"
	"github.com/rpattn/labframe/internal/domain"
)

const definitionColumns = `name, value_type, unit, description, minimum, maximum, allowed_values, max_length`

// definitionRepository implements DefinitionRepository on PostgreSQL
type definitionRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDefinitionRepository creates a new PostgreSQL parameter definition repository
func NewDefinitionRepository(pool *pgxpool.Pool, logger *zap.Logger) DefinitionRepository {
	return &definitionRepository{pool: pool, logger: logger}
}

// GetDefinition retrieves a definition by name
func (r *definitionRepository) GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+definitionColumns+` FROM parameter_definitions WHERE name = $1`, name)
	def, err := scanDefinition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ParameterDefinition{}, ErrNotFound
		}
		return domain.ParameterDefinition{}, fmt.Errorf("failed to get parameter definition: %w", err)
	}
	return def, nil
}

// ListDefinitions retrieves every definition ordered by name
func (r *definitionRepository) ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+definitionColumns+` FROM parameter_definitions ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter definitions: %w", err)
	}
	defer rows.Close()

	defs := []domain.ParameterDefinition{}
	for rows.Next() {
		def, err := scanDefinition(rows)
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

// UpsertDefinitions inserts or replaces definitions in one transaction
func (r *definitionRepository) UpsertDefinitions(ctx context.Context, defs []domain.ParameterDefinition) error {
	return db.WithTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		for _, def := range defs {
			allowed, err := marshalAllowedValues(def.AllowedValues)
			if err != nil {
				return fmt.Errorf("failed to marshal allowed values for %s: %w", def.Name, err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO parameter_definitions (`+definitionColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (name) DO UPDATE
				SET value_type = EXCLUDED.value_type,
				    unit = EXCLUDED.unit,
				    description = EXCLUDED.description,
				    minimum = EXCLUDED.minimum,
				    maximum = EXCLUDED.maximum,
				    allowed_values = EXCLUDED.allowed_values,
				    max_length = EXCLUDED.max_length`,
				def.Name, string(def.ValueType), def.Unit, def.Description, def.Minimum, def.Maximum, allowed, def.MaxLength,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert parameter definition %s: %w", def.Name, err)
			}
		}
		return nil
	})
}

func scanDefinition(row pgx.Row) (domain.ParameterDefinition, error) {
	var (
		def       domain.ParameterDefinition
		valueType string
		allowed   []byte
	)
	if err := row.Scan(&def.Name, &valueType, &def.Unit, &def.Description, &def.Minimum, &def.Maximum, &allowed, &def.MaxLength); err != nil {
		return domain.ParameterDefinition{}, err
	}
	def.ValueType = domain.ValueType(valueType)
	values, err := unmarshalAllowedValues(allowed)
	if err != nil {
		return domain.ParameterDefinition{}, fmt.Errorf("failed to unmarshal allowed values for %s: %w", def.Name, err)
	}
	def.AllowedValues = values
	return def, nil
}

func marshalAllowedValues(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func unmarshalAllowedValues(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values, nil
}
