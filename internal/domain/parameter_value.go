package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParameterValue is a typed parameter payload. The value type tag selects
// which of the variant fields is meaningful.
type ParameterValue struct {
	kind    ValueType
	number  float64
	integer int64
	text    string
	boolean bool
	date    time.Time
}

func NumericValue(v float64) ParameterValue { return ParameterValue{kind: ValueTypeNumeric, number: v} }
func IntegerValue(v int64) ParameterValue   { return ParameterValue{kind: ValueTypeInteger, integer: v} }
func TextValue(v string) ParameterValue     { return ParameterValue{kind: ValueTypeText, text: v} }
func BooleanValue(v bool) ParameterValue    { return ParameterValue{kind: ValueTypeBoolean, boolean: v} }
func EnumValue(v string) ParameterValue     { return ParameterValue{kind: ValueTypeEnum, text: v} }

func DateValue(v time.Time) ParameterValue {
	return ParameterValue{kind: ValueTypeDate, date: TruncateDate(v)}
}

// Type returns the variant tag.
func (v ParameterValue) Type() ValueType { return v.kind }

// IsZero reports whether v carries no value at all.
func (v ParameterValue) IsZero() bool { return v.kind == "" }

// Float returns numeric and integer values as float64.
func (v ParameterValue) Float() (float64, bool) {
	switch v.kind {
	case ValueTypeNumeric:
		return v.number, true
	case ValueTypeInteger:
		return float64(v.integer), true
	}
	return 0, false
}

func (v ParameterValue) Int() (int64, bool) {
	return v.integer, v.kind == ValueTypeInteger
}

// Text returns text and enum values.
func (v ParameterValue) Text() (string, bool) {
	return v.text, v.kind == ValueTypeText || v.kind == ValueTypeEnum
}

func (v ParameterValue) Bool() (bool, bool) {
	return v.boolean, v.kind == ValueTypeBoolean
}

func (v ParameterValue) Date() (time.Time, bool) {
	return v.date, v.kind == ValueTypeDate
}

// Interface returns the JSON-compatible representation of the value. Feeding
// it back through a definition's Coerce yields an equal value.
func (v ParameterValue) Interface() any {
	switch v.kind {
	case ValueTypeNumeric:
		return v.number
	case ValueTypeInteger:
		return v.integer
	case ValueTypeText, ValueTypeEnum:
		return v.text
	case ValueTypeBoolean:
		return v.boolean
	case ValueTypeDate:
		return v.date.Format(DateLayout)
	}
	return nil
}

func (v ParameterValue) String() string {
	switch v.kind {
	case ValueTypeNumeric:
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case ValueTypeInteger:
		return strconv.FormatInt(v.integer, 10)
	case ValueTypeBoolean:
		return strconv.FormatBool(v.boolean)
	case "":
		return ""
	}
	return fmt.Sprint(v.Interface())
}

// Equal compares tag and payload.
func (v ParameterValue) Equal(other ParameterValue) bool {
	if v.kind != other.kind {
		return false
	}
	if v.kind == ValueTypeDate {
		return v.date.Equal(other.date)
	}
	return v.Interface() == other.Interface()
}

func (v ParameterValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Encode serializes the payload for storage. The tag is stored separately.
func (v ParameterValue) Encode() ([]byte, error) {
	if v.IsZero() {
		return nil, errors.New("cannot encode empty parameter value")
	}
	return json.Marshal(v.Interface())
}

// DecodeParameterValue restores a stored payload using its stored tag.
// Constraints are not re-checked; stored values are trusted as written.
func DecodeParameterValue(kind ValueType, data []byte) (ParameterValue, error) {
	coerce, ok := coercers[kind]
	if !ok {
		return ParameterValue{}, fmt.Errorf("unknown value type %q", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return ParameterValue{}, fmt.Errorf("failed to decode %s value: %w", kind, err)
	}
	return coerce(raw)
}

type coercer func(raw any) (ParameterValue, error)

var coercers = map[ValueType]coercer{
	ValueTypeNumeric: coerceNumeric,
	ValueTypeInteger: coerceInteger,
	ValueTypeText:    coerceText,
	ValueTypeBoolean: coerceBoolean,
	ValueTypeEnum:    coerceEnum,
	ValueTypeDate:    coerceDate,
}

func coerceNumeric(raw any) (ParameterValue, error) {
	f, err := toFloat(raw)
	if err != nil {
		return ParameterValue{}, err
	}
	return NumericValue(f), nil
}

func coerceInteger(raw any) (ParameterValue, error) {
	switch v := raw.(type) {
	case int:
		return IntegerValue(int64(v)), nil
	case int32:
		return IntegerValue(int64(v)), nil
	case int64:
		return IntegerValue(v), nil
	case json.Number:
		i, err := v.Int64()
		if err == nil {
			return IntegerValue(i), nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return ParameterValue{}, fmt.Errorf("%s is out of the integer range", v.String())
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return IntegerValue(i), nil
		}
		if errors.Is(err, strconv.ErrRange) {
			return ParameterValue{}, fmt.Errorf("%q is out of the integer range", v)
		}
	}
	f, err := toFloat(raw)
	if err != nil {
		return ParameterValue{}, errors.New(strings.Replace(err.Error(), "a number", "an integer", 1))
	}
	if f != math.Trunc(f) {
		return ParameterValue{}, fmt.Errorf("%v is not an integer", f)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
	if f >= math.Exp2(63) || f < math.MinInt64 {
		return ParameterValue{}, fmt.Errorf("%v is out of the integer range", f)
	}
	return IntegerValue(int64(f)), nil
}

func coerceText(raw any) (ParameterValue, error) {
	s, ok := raw.(string)
	if !ok {
		return ParameterValue{}, fmt.Errorf("expected text, got %s", describe(raw))
	}
	return TextValue(s), nil
}

func coerceBoolean(raw any) (ParameterValue, error) {
	switch v := raw.(type) {
	case bool:
		return BooleanValue(v), nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return BooleanValue(true), nil
		case "false", "no", "0":
			return BooleanValue(false), nil
		}
		return ParameterValue{}, fmt.Errorf("%q is not a boolean", v)
	}
	return ParameterValue{}, fmt.Errorf("expected a boolean, got %s", describe(raw))
}

func coerceEnum(raw any) (ParameterValue, error) {
	s, ok := raw.(string)
	if !ok {
		return ParameterValue{}, fmt.Errorf("expected an option string, got %s", describe(raw))
	}
	return EnumValue(strings.TrimSpace(s)), nil
}

func coerceDate(raw any) (ParameterValue, error) {
	switch v := raw.(type) {
	case time.Time:
		return DateValue(v), nil
	case string:
		t, err := ParseDate(v)
		if err != nil {
			return ParameterValue{}, fmt.Errorf("%q is not a YYYY-MM-DD date", v)
		}
		return DateValue(t), nil
	}
	return ParameterValue{}, fmt.Errorf("expected a YYYY-MM-DD date, got %s", describe(raw))
}

func toFloat(raw any) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v.String())
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("expected a number, got %s", describe(raw))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("value must be a finite number")
	}
	return f, nil
}

func describe(raw any) string {
	switch raw.(type) {
	case string:
		return "text"
	case bool:
		return "a boolean"
	case float64, float32, int, int32, int64, json.Number:
		return "a number"
	case map[string]any:
		return "an object"
	case []any:
		return "a list"
	}
	return fmt.Sprintf("%T", raw)
}
