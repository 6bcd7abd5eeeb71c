// Package catalog is the single gate every parameter value passes through
// before it is stored.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/labframe/internal/domain"
	"github.com/rpattn/labframe/internal/repository"
	"github.com/rpattn/labframe/internal/schema/validator"
)

// Catalog resolves parameter definitions and validates raw values against
// them. Definitions are read through to storage on every call.
type Catalog struct {
	repo   repository.DefinitionRepository
	logger *zap.Logger
}

// New creates a catalog backed by repo.
func New(repo repository.DefinitionRepository, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{repo: repo, logger: logger}
}

// GetDefinition returns the definition for name or a DomainError when the
// name is not in the catalog.
func (c *Catalog) GetDefinition(ctx context.Context, name string) (domain.ParameterDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ParameterDefinition{}, domain.NewDomainError("parameter name is required")
	}
	def, err := c.repo.GetDefinition(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ParameterDefinition{}, domain.UnknownParameter(name)
		}
		return domain.ParameterDefinition{}, &domain.StorageError{Op: "get parameter definition", Err: err}
	}
	return def, nil
}

// ListDefinitions returns every definition ordered by name.
func (c *Catalog) ListDefinitions(ctx context.Context) ([]domain.ParameterDefinition, error) {
	defs, err := c.repo.ListDefinitions(ctx)
	if err != nil {
		return nil, &domain.StorageError{Op: "list parameter definitions", Err: err}
	}
	domain.SortDefinitions(defs)
	return defs, nil
}

// Validate coerces raw into the typed value declared for name.
func (c *Catalog) Validate(ctx context.Context, name string, raw any) (domain.ParameterValue, error) {
	def, err := c.GetDefinition(ctx, name)
	if err != nil {
		return domain.ParameterValue{}, err
	}
	return def.Coerce(raw)
}

// Seed validates defs and upserts them. Existing definitions not present in
// defs are left untouched.
func (c *Catalog) Seed(ctx context.Context, defs []domain.ParameterDefinition) error {
	if err := validator.ValidateDefinitions(defs); err != nil {
		return &domain.DomainError{Reason: fmt.Sprintf("invalid parameter catalog: %v", err), Err: err}
	}
	if err := c.repo.UpsertDefinitions(ctx, defs); err != nil {
		return &domain.StorageError{Op: "seed parameter definitions", Err: err}
	}
	c.logger.Info("Seeded parameter catalog", zap.Int("definitions", len(defs)))
	return nil
}

type definitionsFile struct {
	Parameters []domain.ParameterDefinition `yaml:"parameters"`
}

// LoadDefinitionsFile reads a YAML catalog with a top-level parameters list.
func LoadDefinitionsFile(path string) ([]domain.ParameterDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes YAML catalog content.
func ParseDefinitions(data []byte) ([]domain.ParameterDefinition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return file.Parameters, nil
}
