package types

import "errors"

// Error taxonomy for the verification pipeline. Callers classify failures
// with errors.Is; the service boundary converts all of them to generic
// failure responses.
var (
	// ErrModelUnavailable is returned when inference is requested from a
	// model that never reached the ready state. Fatal to the request.
	ErrModelUnavailable = errors.New("model not available")

	// ErrInvalidInput marks a malformed descriptor or image, rejected
	// before any provider call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUpstreamFailure marks a failed environmental, imagery or
	// legitimacy provider call, propagated to the enclosing analysis.
	ErrUpstreamFailure = errors.New("upstream provider failure")
)
