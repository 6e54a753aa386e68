package model

import "errors"

var (
	// ErrValidation marks malformed or ambiguous sample/field input, such as
	// a GUID field containing the reserved delimiter.
	ErrValidation = errors.New("validation error")

	// ErrTransformation marks a sample of unknown or unsupported event type.
	ErrTransformation = errors.New("transformation error")

	// ErrRateLimitExceeded is returned when a submission exhausts its wait
	// budget for a rate-limit token.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrTransientDelivery marks a retryable network/backend failure.
	ErrTransientDelivery = errors.New("transient delivery error")

	// ErrPermanentDelivery marks a payload definitively rejected by the backend.
	ErrPermanentDelivery = errors.New("permanent delivery error")

	// ErrConfiguration marks invalid configuration; fatal at startup.
	ErrConfiguration = errors.New("configuration error")
)
