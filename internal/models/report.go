package models

import "time"

// ExtractionReport summarizes one finished extraction for logging sinks.
type ExtractionReport struct {
	RequestID   string
	Path        string
	URL         string
	ResolvedURL string
	Marketplace Marketplace
	Strategy    string
	Attempts    int
	Kind        FailureKind
	Options     Options
	Elapsed     time.Duration
}

func (r ExtractionReport) Success() bool {
	return r.Kind == FailureNone
}
