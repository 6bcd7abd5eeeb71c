package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueType is the semantic type tag of a parameter definition.
type ValueType string

const (
	ValueTypeNumeric ValueType = "numeric"
	ValueTypeInteger ValueType = "integer"
	ValueTypeText    ValueType = "text"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeEnum    ValueType = "enum"
	ValueTypeDate    ValueType = "date"
)

// Valid reports whether the value type is one the catalog understands.
func (t ValueType) Valid() bool {
	_, ok := coercers[t]
	return ok
}

// NormalizeValueType lower-cases and trims a value type tag.
func NormalizeValueType(raw string) ValueType {
	return ValueType(strings.ToLower(strings.TrimSpace(raw)))
}

// ParameterDefinition describes the type and constraints of a named
// measurable attribute.
type ParameterDefinition struct {
	Name          string    `json:"name" yaml:"name"`
	ValueType     ValueType `json:"value_type" yaml:"value_type"`
	Unit          string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty"`
	Minimum       *float64  `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum       *float64  `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	AllowedValues []string  `json:"allowed_values,omitempty" yaml:"allowed_values,omitempty"`
	MaxLength     int       `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// Coerce converts raw into a typed value and checks it against the
// definition's constraints.
func (d ParameterDefinition) Coerce(raw any) (ParameterValue, error) {
	coerce, ok := coercers[d.ValueType]
	if !ok {
		return ParameterValue{}, d.invalid(fmt.Sprintf("definition has unsupported value type %q", d.ValueType))
	}
	if raw == nil {
		return ParameterValue{}, d.invalid("value is required")
	}
	value, err := coerce(raw)
	if err != nil {
		return ParameterValue{}, d.invalid(err.Error())
	}
	if err := d.checkConstraints(value); err != nil {
		return ParameterValue{}, err
	}
	return value, nil
}

func (d ParameterDefinition) checkConstraints(value ParameterValue) error {
	switch value.Type() {
	case ValueTypeNumeric, ValueTypeInteger:
		n, _ := value.Float()
		if d.Minimum != nil && n < *d.Minimum {
			return d.invalid(fmt.Sprintf("%v is below the minimum %v", n, *d.Minimum))
		}
		if d.Maximum != nil && n > *d.Maximum {
			return d.invalid(fmt.Sprintf("%v is above the maximum %v", n, *d.Maximum))
		}
	case ValueTypeText:
		text, _ := value.Text()
		if d.MaxLength > 0 && len([]rune(text)) > d.MaxLength {
			return d.invalid(fmt.Sprintf("text longer than %d characters", d.MaxLength))
		}
	case ValueTypeEnum:
		text, _ := value.Text()
		for _, allowed := range d.AllowedValues {
			if text == allowed {
				return nil
			}
		}
		return d.invalid(fmt.Sprintf("%q is not one of [%s]", text, strings.Join(d.AllowedValues, ", ")))
	}
	return nil
}

// Expectation renders the expected type and constraints for diagnostics.
func (d ParameterDefinition) Expectation() string {
	parts := []string{string(d.ValueType)}
	if d.Minimum != nil {
		parts = append(parts, fmt.Sprintf(">= %v", *d.Minimum))
	}
	if d.Maximum != nil {
		parts = append(parts, fmt.Sprintf("<= %v", *d.Maximum))
	}
	if d.ValueType == ValueTypeEnum && len(d.AllowedValues) > 0 {
		parts = append(parts, "one of ["+strings.Join(d.AllowedValues, ", ")+"]")
	}
	if d.Unit != "" {
		parts = append(parts, "in "+d.Unit)
	}
	return strings.Join(parts, " ")
}

func (d ParameterDefinition) invalid(reason string) *ValidationError {
	return &ValidationError{
		Parameter: d.Name,
		Expected:  d.Expectation(),
		Reason:    reason,
	}
}

// SortDefinitions orders definitions by name in place.
func SortDefinitions(defs []ParameterDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
}

// SampleParameterValue is the current value of one parameter for one sample.
type SampleParameterValue struct {
	SampleID      int64          `json:"sample_id"`
	ParameterName string         `json:"parameter_name"`
	Value         ParameterValue `json:"value"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// ParameterHistoryEntry is one append-only record of a parameter write.
type ParameterHistoryEntry struct {
	ID            int64          `json:"id"`
	SampleID      int64          `json:"sample_id"`
	ParameterName string         `json:"parameter_name"`
	Value         ParameterValue `json:"value"`
	RecordedAt    time.Time      `json:"recorded_at"`
}

// ParameterWrite is a validated value ready to be persisted.
type ParameterWrite struct {
	ParameterName string
	Value         ParameterValue
	RecordedAt    time.Time
}

// SortParameterValues orders current values by parameter name in place.
func SortParameterValues(values []SampleParameterValue) {
	sort.Slice(values, func(i, j int) bool { return values[i].ParameterName < values[j].ParameterName })
}
