package client

import (
	"context"
	"errors"
	"net"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weather_api_errors_total label.
const (
	ErrorCategoryTimeout     ErrorCategory = "timeout"
	ErrorCategoryCanceled    ErrorCategory = "canceled"
	ErrorCategoryNetwork     ErrorCategory = "network"
	ErrorCategoryBadRequest  ErrorCategory = "bad_request"
	ErrorCategoryRateLimited ErrorCategory = "rate_limited"
	ErrorCategoryUpstream    ErrorCategory = "upstream"
	ErrorCategoryParsing     ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen ErrorCategory = "circuit_open"
	ErrorCategoryUnknown     ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrBadRequest):
		return ErrorCategoryBadRequest
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrBadResponse):
		return ErrorCategoryParsing
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCategoryTimeout
		}
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
