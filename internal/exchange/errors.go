package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind classifies venue failures so callers can branch on cause
// without string matching.
type ErrorKind string

const (
	KindNetwork             ErrorKind = "network"
	KindRateLimit           ErrorKind = "rate_limit"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindUnknownOrder        ErrorKind = "unknown_order"
	KindInvalidOrder        ErrorKind = "invalid_order"
	KindUnknownSymbol       ErrorKind = "unknown_symbol"
	KindOther               ErrorKind = "other"
)

// Error is the typed failure every adapter method returns.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Code       int // venue error code, 0 when not applicable
	Msg        string
	Cause      error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s (http %d, code %d): %s", e.Kind, e.HTTPStatus, e.Code, e.Msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("exchange %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the error kind, or KindOther for foreign errors.
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindOther
}

// IsUnknownOrder reports whether the venue does not know the order,
// which tolerant cancels treat as success.
func IsUnknownOrder(err error) bool { return KindOf(err) == KindUnknownOrder }

// IsInsufficientBalance reports a margin shortfall rejection.
func IsInsufficientBalance(err error) bool { return KindOf(err) == KindInsufficientBalance }

// IsTransient reports whether a retry has any chance of succeeding.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimit:
		return true
	}
	return false
}

func netError(msg string, cause error) *Error {
	return &Error{Kind: KindNetwork, Msg: msg, Cause: cause}
}
