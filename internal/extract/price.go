package extract

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var priceTokenPattern = regexp.MustCompile(`\d[\d.,]*`)

// ParsePrice reads the first price-shaped token from s. Currency symbols and
// surrounding words are ignored. Thousands separators are dropped and a comma
// decimal separator becomes a dot. A string without a usable number yields
// false, never NaN.
func ParsePrice(s string) (float64, bool) {
	token := priceTokenPattern.FindString(s)
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return 0, false
	}

	normalized := normalizeSeparators(token)
	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// normalizeSeparators decides which separator is the decimal one:
//   - both present: the last one seen is decimal
//   - several of one kind: thousands, unless the last group is not 3 digits
//   - a single dot followed by exactly 3 digits after a non-zero integer part
//     is a thousands separator ("1.234"), otherwise decimal ("49.90")
//   - a single comma is always decimal ("50,00")
func normalizeSeparators(token string) string {
	lastComma := strings.LastIndex(token, ",")
	lastDot := strings.LastIndex(token, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(token, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(token, ",", "")

	case lastComma >= 0:
		return resolveSingleKind(token, ",", true)

	case lastDot >= 0:
		return resolveSingleKind(token, ".", false)
	}

	return token
}

func resolveSingleKind(token, sep string, singleIsDecimal bool) string {
	parts := strings.Split(token, sep)
	last := parts[len(parts)-1]

	if len(parts) > 2 {
		if len(last) == 3 {
			return strings.Join(parts, "")
		}
		return strings.Join(parts[:len(parts)-1], "") + "." + last
	}

	if singleIsDecimal {
		return parts[0] + "." + last
	}

	head := strings.TrimLeft(parts[0], "0")
	if len(last) == 3 && head != "" {
		return parts[0] + last
	}
	return parts[0] + "." + last
}

// PriceFromJSON accepts the shapes prices take inside decoded JSON: numbers,
// numeric strings, or objects carrying a value/amount field.
func PriceFromJSON(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 && !math.IsInf(t, 0) {
			return t, true
		}
	case json.Number:
		if f, err := t.Float64(); err == nil && f > 0 {
			return f, true
		}
	case int:
		if t > 0 {
			return float64(t), true
		}
	case int64:
		if t > 0 {
			return float64(t), true
		}
	case string:
		if f, ok := ParsePrice(t); ok && f > 0 {
			return f, true
		}
	case map[string]any:
		for _, k := range []string{"value", "amount", "current", "price"} {
			if vv, ok := t[k]; ok {
				return PriceFromJSON(vv)
			}
		}
	}
	return 0, false
}

// parsePlainDecimal parses machine-formatted numbers such as "1234.5" where
// a dot is always the decimal separator.
func parsePlainDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}
