package models

import "strings"

// Field names an optional ProductRecord field a caller may opt out of.
type Field string

const (
	FieldDescription Field = "description"
	FieldRating      Field = "rating"
	FieldReviewCount Field = "reviewCount"
	FieldSeller      Field = "seller"
)

// ParseFields turns a comma separated list into known fields, ignoring
// anything unrecognized.
func ParseFields(raw string) []Field {
	var fields []Field
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "description":
			fields = append(fields, FieldDescription)
		case "rating":
			fields = append(fields, FieldRating)
		case "reviewcount", "review_count":
			fields = append(fields, FieldReviewCount)
		case "seller":
			fields = append(fields, FieldSeller)
		}
	}
	return fields
}

// Options carries the caller context of one extraction.
type Options struct {
	OriginalURL           string  `json:"original_url,omitempty"`
	UserID                string  `json:"user_id,omitempty"`
	TelegramUserID        int64   `json:"telegram_user_id,omitempty"`
	Origin                string  `json:"origin,omitempty"`
	SkipBrowserAutomation bool    `json:"skip_browser_automation,omitempty"`
	Fields                []Field `json:"fields,omitempty"`
}

// Wants reports whether the optional field f should be extracted. An empty
// selector means every field.
func (o Options) Wants(f Field) bool {
	if len(o.Fields) == 0 {
		return true
	}
	for _, field := range o.Fields {
		if field == f {
			return true
		}
	}
	return false
}

// ApplyFields clears the optional fields the caller did not ask for.
func (o Options) ApplyFields(c *Candidate) {
	if c == nil {
		return
	}
	if !o.Wants(FieldDescription) {
		c.Description = ""
	}
	if !o.Wants(FieldRating) {
		c.Rating = nil
	}
	if !o.Wants(FieldReviewCount) {
		c.ReviewCount = nil
	}
	if !o.Wants(FieldSeller) {
		c.Seller = ""
	}
}
