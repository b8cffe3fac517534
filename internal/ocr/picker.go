package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

// currencyPattern finds R$ amounts, tolerating the spacing OCR produces.
var currencyPattern = regexp.MustCompile(`(?i)R\s?\$\s*(\d{1,3}(?:[. ]\d{3})+(?:,\d{1,2})?|\d+(?:[.,]\d{1,2})?)`)

// contextWindow is how many characters before a token are searched for cue
// words.
const contextWindow = 24

var currentCues = []string{"por", "agora", "now", "for", "só", "apenas", "hoje", "oferta"}

var previousCues = []string{"de", "antes", "was", "before", "era", "previously", "preço original"}

type token struct {
	value    float64
	current  bool
	previous bool
}

// PickPrice chooses the current price among the currency amounts in text.
// Amounts preceded by a "now/for" cue win over uncued ones, amounts preceded
// by a "was/before" cue are only used when nothing else is left, and the
// smallest value breaks remaining ties.
func PickPrice(text string) (float64, bool) {
	tokens := scan(text)
	if len(tokens) == 0 {
		return 0, false
	}

	var current, neutral, previous []float64
	for _, t := range tokens {
		switch {
		case t.current:
			current = append(current, t.value)
		case t.previous:
			previous = append(previous, t.value)
		default:
			neutral = append(neutral, t.value)
		}
	}

	for _, group := range [][]float64{current, neutral, previous} {
		if len(group) > 0 {
			return smallest(group), true
		}
	}
	return 0, false
}

func scan(text string) []token {
	lower := strings.ToLower(text)
	var tokens []token
	for _, m := range currencyPattern.FindAllStringSubmatchIndex(lower, -1) {
		raw := strings.ReplaceAll(lower[m[2]:m[3]], " ", ".")
		value, ok := extract.ParsePrice(raw)
		if !ok || !quality.PriceInRange(value) {
			continue
		}

		start := m[0] - contextWindow
		if start < 0 {
			start = 0
		}
		before := lastCueRegion(lower[start:m[0]])
		tokens = append(tokens, token{
			value:    value,
			current:  hasCue(before, currentCues),
			previous: hasCue(before, previousCues),
		})
	}
	return tokens
}

// lastCueRegion keeps only the text after the previous amount so a cue never
// leaks from one price to the next.
func lastCueRegion(s string) string {
	if i := strings.LastIndex(s, "$"); i >= 0 {
		rest := s[i+1:]
		// skip the digits of the previous amount
		return strings.TrimLeft(rest, "0123456789., ")
	}
	return s
}

func hasCue(s string, cues []string) bool {
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(":|-", r)
	}) {
		for _, cue := range cues {
			if w == cue {
				return true
			}
		}
	}
	for _, cue := range cues {
		if strings.Contains(cue, " ") && strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

func smallest(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
