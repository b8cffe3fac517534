package extract

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"R$ 1.234,56", 1234.56, true},
		{"R$ 50,00", 50, true},
		{"R$ 89,90", 89.90, true},
		{"1234.56", 1234.56, true},
		{"49.90", 49.90, true},
		{"$1,234.56", 1234.56, true},
		{"R$ 1.234", 1234, true},
		{"R$ 12.345.678,90", 12345678.90, true},
		{"1,234,567", 1234567, true},
		{"0.500", 0.5, true},
		{"199", 199, true},
		{"por R$ 149,90 à vista", 149.90, true},
		{"grátis", 0, false},
		{"", 0, false},
		{"R$ --", 0, false},
		{"NaN", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}

func TestParsePrice_IdempotentOnCleanNumbers(t *testing.T) {
	for _, in := range []string{"1234.56", "50", "0.99", "99999.9"} {
		first, ok := ParsePrice(in)
		assert.True(t, ok)
		second, ok := ParsePrice(strconv.FormatFloat(first, 'f', -1, 64))
		assert.True(t, ok)
		assert.Equal(t, first, second, in)
	}
}

func TestPriceFromJSON(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float", 79.9, 79.9, true},
		{"number", json.Number("12.5"), 12.5, true},
		{"string", "R$ 10,50", 10.5, true},
		{"nested", map[string]any{"value": "19,99"}, 19.99, true},
		{"zero", 0.0, 0, false},
		{"negative", -3.0, 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PriceFromJSON(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.InDelta(t, tt.want, got, 0.0001)
			}
		})
	}
}
