package models

import "errors"

// Failure taxonomy shared by every strategy and the chain executor.
var (
	ErrNoData             = errors.New("no product data found")
	ErrTransientNetwork   = errors.New("transient network error")
	ErrAntiBotBlock       = errors.New("blocked by anti-bot protection")
	ErrValidation         = errors.New("candidate failed validation")
	ErrNotFound           = errors.New("product not found")
	ErrServiceUnavailable = errors.New("external service not configured")
	ErrRetryNextVariant   = errors.New("endpoint rejected request, try next variant")
)

// FailureKind is the classification attached to a failed attempt.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureNoData             FailureKind = "no_data"
	FailureTransientNetwork   FailureKind = "transient_network"
	FailureAntiBotBlock       FailureKind = "anti_bot_block"
	FailureValidation         FailureKind = "validation"
	FailureNotFound           FailureKind = "not_found"
	FailureServiceUnavailable FailureKind = "service_unavailable"
	FailureOther              FailureKind = "other"
)
