package client

import (
	"errors"
	"fmt"

	"loan_broker_backend/platform/apperr"
)

// ErrorKind classifies pricing failures.
type ErrorKind int

const (
	// KindTransport covers network failures, timeouts and throttling waits.
	KindTransport ErrorKind = iota + 1
	// KindProviderRejected covers non-2xx answers and SOAP faults without tariffs.
	KindProviderRejected
	// KindMalformedResponse covers bodies that could not be scanned or exceed the size cap.
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProviderRejected:
		return "provider_rejected"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// PricingError is returned for every failed provider exchange.
type PricingError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *PricingError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("pricing %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("pricing %s: %v", e.Kind, e.Err)
}

func (e *PricingError) Unwrap() error { return e.Err }

// KindOf returns the pricing error kind in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var pe *PricingError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsTransport reports whether the outcome of the exchange is unknown.
func IsTransport(err error) bool {
	return KindOf(err) == KindTransport
}

// AsAppError maps a pricing failure to the retryable upstream error the API
// exposes. Other errors are returned unchanged.
func AsAppError(err error) error {
	var pe *PricingError
	if !errors.As(err, &pe) {
		return err
	}
	message := "pricing service unavailable, retry later"
	if pe.Kind == KindProviderRejected {
		message = "pricing provider rejected the request, retry later"
	}
	return apperr.Wrap(apperr.KindUnavailable, message, err)
}
