package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between warning, retrying and giving up
type Kind int

const (
	KindUnknown Kind = iota
	KindUpstreamUnavailable
	KindMalformedResponse
	KindRateLimited
	KindNoHistoricalData
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindMalformedResponse:
		return "malformed_response"
	case KindRateLimited:
		return "rate_limited"
	case KindNoHistoricalData:
		return "no_historical_data"
	case KindConfiguration:
		return "configuration_error"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against a kind.
var (
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable, Message: "upstream unavailable"}
	ErrMalformedResponse   = &Error{Kind: KindMalformedResponse, Message: "malformed response"}
	ErrRateLimited         = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrNoHistoricalData    = &Error{Kind: KindNoHistoricalData, Message: "no historical data"}
	ErrConfiguration       = &Error{Kind: KindConfiguration, Message: "configuration error"}
)

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrUnknownCurrency indicates a currency code the provider does not quote.
var ErrUnknownCurrency = errors.New("unknown currency")

// Error is a classified failure from the rates layer
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// New creates a classified error.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// Newf creates a classified error with a formatted message and no cause.
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be shown as a warning rather than a persistent error.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindUpstreamUnavailable, KindMalformedResponse, KindRateLimited, KindNoHistoricalData:
		return true
	default:
		return false
	}
}
