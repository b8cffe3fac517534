package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// stateGlobals are window globals client-side frameworks hydrate from.
var stateGlobals = []string{
	"__NEXT_DATA__",
	"__INITIAL_STATE__",
	"__PRELOADED_STATE__",
	"__NUXT__",
	"__APOLLO_STATE__",
	"runParams",
}

var assignmentPatterns = func() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(stateGlobals))
	for _, name := range stateGlobals {
		patterns[name] = regexp.MustCompile(`(?:^|[\s;.\[])["']?` + regexp.QuoteMeta(name) + `["']?\]?\s*=\s*`)
	}
	return patterns
}()

// StateGlobalsScript evaluates to the first hydration payload present in a
// live page, serialized as JSON, or null.
const StateGlobalsScript = `() => {
	const names = ["__NEXT_DATA__", "__INITIAL_STATE__", "__PRELOADED_STATE__", "__NUXT__", "__APOLLO_STATE__", "runParams"];
	for (const n of names) {
		try {
			if (window[n]) return JSON.stringify(window[n]);
		} catch (e) {}
	}
	return null;
}`

// EmbeddedPayloads returns every decodable client-rendering payload in the
// document, in the order they appear.
func EmbeddedPayloads(doc *goquery.Document) []any {
	var payloads []any

	doc.Find(`script#__NEXT_DATA__, script[type="application/json"]`).Each(func(_ int, s *goquery.Selection) {
		if v, ok := decodeJSON(s.Text()); ok {
			payloads = append(payloads, v)
		}
	})

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if t, _ := s.Attr("type"); t != "" && t != "text/javascript" && t != "module" {
			return
		}
		text := s.Text()
		for _, name := range stateGlobals {
			if v, ok := assignedPayload(text, name); ok {
				payloads = append(payloads, v)
				return
			}
		}
	})

	return payloads
}

// assignedPayload decodes the object literal assigned to a global, as in
// `window.__INITIAL_STATE__ = {...};`.
func assignedPayload(script, name string) (any, bool) {
	loc := assignmentPatterns[name].FindStringIndex(script)
	if loc == nil {
		return nil, false
	}
	return decodeJSON(script[loc[1]:])
}

// decodeJSON decodes the first JSON value in s, ignoring trailing script.
func decodeJSON(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// DecodePayload decodes a serialized payload captured from a live page.
func DecodePayload(raw string) (any, bool) {
	return decodeJSON(raw)
}
