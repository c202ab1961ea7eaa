package domain

import (
	"math"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntInput(t *testing.T) {
	tests := []struct {
		raw  string
		want int64
	}{
		{"42", 42},
		{"-7", -7},
		{"12abc", 12},
		{"abc", 0},
		{"", 0},
		{"  5 ", 5},
		{"3.9", 3},
		{"99999999999999999999999", math.MaxInt64},
		{"-99999999999999999999999", math.MinInt64},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseIntInput(tt.raw))
		})
	}
}

func TestParseFloatInput(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"1.5", 1.5},
		{"1.5x", 1.5},
		{".25", 0.25},
		{"-2", -2},
		{"1e3", 1000},
		{"abc", 0},
		{"", 0},
		{"NaN", 0},
		{"Inf", 0},
		{"1e999", 0},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFloatInput(tt.raw))
		})
	}
}

func TestParseParamValue(t *testing.T) {
	assert.Equal(t, IntValue(14), ParseParamValue(ParamTypeInteger, "14"))
	assert.Equal(t, IntValue(0), ParseParamValue(ParamTypeInteger, "abc"))
	assert.Equal(t, FloatValue(0.5), ParseParamValue(ParamTypeFloat, "0.5"))
	assert.Equal(t, StringValue("abc"), ParseParamValue(ParamTypeString, "abc"))
}

func TestParameterDef_DefaultValue(t *testing.T) {
	var defs []ParameterDef
	body := `[
		{"name":"rsi_period","type":"integer","default":14,"label":"RSI Period"},
		{"name":"threshold","type":"float","default":0.5,"label":"Threshold"},
		{"name":"mode","type":"string","default":"fast","label":"Mode"}
	]`
	require.NoError(t, json.Unmarshal([]byte(body), &defs))
	require.Len(t, defs, 3)

	assert.Equal(t, IntValue(14), defs[0].DefaultValue())
	assert.Equal(t, FloatValue(0.5), defs[1].DefaultValue())
	assert.Equal(t, StringValue("fast"), defs[2].DefaultValue())

	assert.Equal(t, 14.0, defs[0].DefaultNumber())
	assert.Equal(t, 0.0, defs[2].DefaultNumber())

	fractional := ParameterDef{Name: "multiplier", Type: ParamTypeInteger, Default: 1.5}
	assert.Equal(t, FloatValue(1.5), fractional.DefaultValue(), "fractional default is not truncated")
}

func TestParamValues_MarshalJSON(t *testing.T) {
	values := ParamValues{
		"rsi_period": IntValue(14),
		"threshold":  FloatValue(0.25),
		"mode":       StringValue("fast"),
	}

	data, err := json.Marshal(values)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rsi_period":14,"threshold":0.25,"mode":"fast"}`, string(data))

	var decoded ParamValues
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, values, decoded)
}

func TestParamRange_GetWith(t *testing.T) {
	r := ParamRange{Start: 14, End: 14}

	r2 := r.With(RangeFieldStep, 2)
	assert.Equal(t, 2.0, r2.Get(RangeFieldStep))
	assert.Equal(t, 14.0, r2.Get(RangeFieldStart))
	assert.Equal(t, 0.0, r.Step, "original must be unchanged")
}
