package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ParameterDef is one entry of a strategy's declared parameter schema.
type ParameterDef struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Default any       `json:"default"`
	Label   string    `json:"label"`
}

// DefaultValue returns the declared default coerced to the parameter's type.
// A fractional default on an integer parameter is kept as sent.
func (d ParameterDef) DefaultValue() ParamValue {
	switch d.Type {
	case ParamTypeInteger:
		switch v := d.Default.(type) {
		case float64:
			if v != math.Trunc(v) || math.Abs(v) >= math.MaxInt64 {
				return FloatValue(v)
			}
			return IntValue(int64(v))
		case string:
			return ParseParamValue(ParamTypeInteger, v)
		}
		return IntValue(0)
	case ParamTypeString:
		switch v := d.Default.(type) {
		case string:
			return StringValue(v)
		case float64:
			return StringValue(strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			return StringValue(strconv.FormatBool(v))
		}
		return StringValue("")
	default:
		switch v := d.Default.(type) {
		case float64:
			return FloatValue(v)
		case string:
			return ParseParamValue(ParamTypeFloat, v)
		}
		return FloatValue(0)
	}
}

// DefaultNumber returns the declared default as a float, or 0 when it is not numeric.
func (d ParameterDef) DefaultNumber() float64 {
	switch v := d.Default.(type) {
	case float64:
		return v
	case string:
		return ParseFloatInput(v)
	}
	return 0
}

// ParamValue is a concrete parameter value for single-mode runs.
// Exactly one of Int, Float or Str is meaningful, selected by Type.
type ParamValue struct {
	Type  ParamType
	Int   int64
	Float float64
	Str   string
}

// IntValue creates an integer ParamValue.
func IntValue(v int64) ParamValue {
	return ParamValue{Type: ParamTypeInteger, Int: v}
}

// FloatValue creates a float ParamValue. Non-finite values are stored as 0.
func FloatValue(v float64) ParamValue {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return ParamValue{Type: ParamTypeFloat, Float: v}
}

// StringValue creates a string ParamValue.
func StringValue(v string) ParamValue {
	return ParamValue{Type: ParamTypeString, Str: v}
}

// ParseParamValue parses raw user input according to the declared type.
// Invalid numeric input yields 0.
func ParseParamValue(t ParamType, raw string) ParamValue {
	switch t {
	case ParamTypeInteger:
		return IntValue(ParseIntInput(raw))
	case ParamTypeString:
		return StringValue(raw)
	default:
		return FloatValue(ParseFloatInput(raw))
	}
}

// Number returns the value as a float64 (0 for strings).
func (v ParamValue) Number() float64 {
	switch v.Type {
	case ParamTypeInteger:
		return float64(v.Int)
	case ParamTypeFloat:
		return v.Float
	}
	return 0
}

// Interface returns the underlying Go value.
func (v ParamValue) Interface() any {
	switch v.Type {
	case ParamTypeInteger:
		return v.Int
	case ParamTypeString:
		return v.Str
	}
	return v.Float
}

// String returns the value formatted for display.
func (v ParamValue) String() string {
	switch v.Type {
	case ParamTypeInteger:
		return strconv.FormatInt(v.Int, 10)
	case ParamTypeString:
		return v.Str
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// MarshalJSON encodes the value as a bare JSON scalar.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case ParamTypeInteger:
		return strconv.AppendInt(nil, v.Int, 10), nil
	case ParamTypeString:
		return json.Marshal(v.Str)
	}
	return strconv.AppendFloat(nil, v.Float, 'f', -1, 64), nil
}

// UnmarshalJSON decodes a bare JSON scalar. Numbers without a fraction or exponent
// decode as integers.
func (v *ParamValue) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	if !strings.ContainsAny(text, ".eE") {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			*v = IntValue(n)
			return nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return NewFieldError("param_value", "must be a number or string")
	}
	*v = FloatValue(f)
	return nil
}

// ParamValues maps parameter name to its concrete value.
type ParamValues map[string]ParamValue

// Clone returns a shallow copy.
func (m ParamValues) Clone() ParamValues {
	out := make(ParamValues, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ParamRange is the editable sweep range of one parameter.
type ParamRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// Get returns the value of the given field.
func (r ParamRange) Get(field RangeField) float64 {
	switch field {
	case RangeFieldStart:
		return r.Start
	case RangeFieldEnd:
		return r.End
	case RangeFieldStep:
		return r.Step
	}
	return 0
}

// With returns a copy of the range with one field replaced.
func (r ParamRange) With(field RangeField, v float64) ParamRange {
	switch field {
	case RangeFieldStart:
		r.Start = v
	case RangeFieldEnd:
		r.End = v
	case RangeFieldStep:
		r.Step = v
	}
	return r
}

// ParamRanges maps parameter name to its sweep range.
type ParamRanges map[string]ParamRange

// Clone returns a shallow copy.
func (m ParamRanges) Clone() ParamRanges {
	out := make(ParamRanges, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ParamRangeSpec is the wire form of a sweep range, carrying the declared type.
type ParamRangeSpec struct {
	Type  ParamType `json:"type"`
	Start float64   `json:"start"`
	End   float64   `json:"end"`
	Step  float64   `json:"step"`
}

var (
	intPrefix   = regexp.MustCompile(`^[+-]?\d+`)
	floatPrefix = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// ParseIntInput parses the leading base-10 integer of raw input.
// Input without a leading integer yields 0; out-of-range input saturates
// at the int64 bounds.
func ParseIntInput(raw string) int64 {
	m := intPrefix.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0
	}
	// On ErrRange ParseInt returns the saturated bound.
	n, _ := strconv.ParseInt(m, 10, 64)
	return n
}

// ParseFloatInput parses the leading decimal number of raw input.
// Input without a leading number, or non-finite results, yield 0.
func ParseFloatInput(raw string) float64 {
	m := floatPrefix.FindString(strings.TrimSpace(raw))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
