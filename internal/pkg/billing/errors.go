package billing

import "errors"

var (
	ErrMissingSubscriptionID = errors.New("missing subscription id in payload")
	ErrMissingInvoiceID      = errors.New("missing invoice id in payload")
	ErrUnsupportedEventType  = errors.New("unsupported event type")
	ErrInvalidPayload        = errors.New("invalid webhook payload")

	// ErrProviderTransient wraps failures talking to the billing provider that
	// may succeed on a later attempt.
	ErrProviderTransient = errors.New("billing provider temporarily unavailable")
)
