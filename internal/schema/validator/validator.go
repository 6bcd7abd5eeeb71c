package validator

import (
	"fmt"
	"strings"

	"github.com/rpattn/labframe/internal/domain"
)

var boundedTypes = map[domain.ValueType]struct{}{
	domain.ValueTypeNumeric: {},
	domain.ValueTypeInteger: {},
}

// ValidateDefinitions ensures parameter definitions are structurally sound
// before they enter the catalog. It normalizes names and value types in place
// and rejects duplicates, unknown types and constraints that do not apply to
// the declared type.
func ValidateDefinitions(defs []domain.ParameterDefinition) error {
	seen := make(map[string]struct{}, len(defs))

	for i := range defs {
		def := &defs[i]
		def.Name = strings.TrimSpace(def.Name)
		def.ValueType = domain.NormalizeValueType(string(def.ValueType))

		if def.Name == "" {
			return fmt.Errorf("definition %d has no name", i+1)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("parameter %s is defined more than once", def.Name)
		}
		seen[def.Name] = struct{}{}

		if !def.ValueType.Valid() {
			return fmt.Errorf("parameter %s has unsupported value type %q", def.Name, def.ValueType)
		}

		if _, ok := boundedTypes[def.ValueType]; !ok && (def.Minimum != nil || def.Maximum != nil) {
			return fmt.Errorf("parameter %s cannot declare bounds because type %s is not numeric", def.Name, def.ValueType)
		}
		if def.Minimum != nil && def.Maximum != nil && *def.Minimum > *def.Maximum {
			return fmt.Errorf("parameter %s has minimum %v above maximum %v", def.Name, *def.Minimum, *def.Maximum)
		}

		if def.ValueType == domain.ValueTypeEnum {
			if len(def.AllowedValues) == 0 {
				return fmt.Errorf("parameter %s is an enum without allowed values", def.Name)
			}
			for j, option := range def.AllowedValues {
				def.AllowedValues[j] = strings.TrimSpace(option)
				if def.AllowedValues[j] == "" {
					return fmt.Errorf("parameter %s has an empty allowed value", def.Name)
				}
			}
		} else if len(def.AllowedValues) > 0 {
			return fmt.Errorf("parameter %s cannot declare allowed values because type %s is not enum", def.Name, def.ValueType)
		}

		if def.MaxLength < 0 {
			return fmt.Errorf("parameter %s has a negative max length", def.Name)
		}
		if def.MaxLength > 0 && def.ValueType != domain.ValueTypeText {
			return fmt.Errorf("parameter %s cannot declare max length because type %s is not text", def.Name, def.ValueType)
		}
	}

	return nil
}
