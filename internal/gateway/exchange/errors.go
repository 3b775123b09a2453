package exchange

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by GetOrderStatus when the exchange does not
// know the order yet. Callers treat it as retryable, not as failure.
var ErrOrderNotFound = errors.New("exchange: order not found")

// ErrorClass buckets exchange rejections for the fallback policy.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassAuth
	ClassInsufficientMargin
	ClassBadPrecision
	ClassRateLimit
)

func (c ErrorClass) String() string {
	switch c {
	case ClassAuth:
		return "auth"
	case ClassInsufficientMargin:
		return "insufficient_margin"
	case ClassBadPrecision:
		return "bad_precision"
	case ClassRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// APIError is a normalized exchange rejection. Raw preserves the exchange
// payload verbatim for the decision trail.
type APIError struct {
	Code    int
	Message string
	Raw     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Class maps Binance futures error codes onto fallback classes. Codes outside
// the table are ClassUnknown and terminal.
func (e *APIError) Class() ErrorClass {
	switch e.Code {
	case -1022, -2014, -2015, -4056, -4057:
		// bad signature / API key / key permissions
		return ClassAuth
	case -2018, -2019, -4046, -4028, -4131:
		// insufficient balance or margin, leverage rejected
		return ClassInsufficientMargin
	case -1111, -1013, -4014, -4003:
		// precision over maximum, filter failures on price/qty
		return ClassBadPrecision
	case -1003, -1015, -1001, -1021, -1007:
		// rate limits, internal errors, timeouts, recv window
		return ClassRateLimit
	default:
		return ClassUnknown
	}
}

// AsAPIError unwraps err into an *APIError if one is in the chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
