// Package errors provides the typed error values returned by the exchange
// engine. Every recoverable failure carries a Kind from the taxonomy below;
// callers branch on KindOf rather than matching message strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies one failure class of the engine.
type Kind string

const (
	KindInvalidParams         Kind = "INVALID_PARAMS"
	KindUnknownSymbol         Kind = "UNKNOWN_SYMBOL"
	KindUnknownFlag           Kind = "UNKNOWN_FLAG"
	KindKYCRequired           Kind = "KYC_REQUIRED"
	KindAccountFrozen         Kind = "ACCOUNT_FROZEN"
	KindInsufficientUSD       Kind = "INSUFFICIENT_USD"
	KindInsufficientTokens    Kind = "INSUFFICIENT_TOKENS"
	KindInsufficientLiquidity Kind = "INSUFFICIENT_LIQUIDITY"
	KindTradingHalted         Kind = "TRADING_HALTED"
	KindOrderNotFound         Kind = "ORDER_NOT_FOUND"
	KindForbidden             Kind = "FORBIDDEN"
	KindNotOpen               Kind = "NOT_OPEN"
	KindUserNotFound          Kind = "USER_NOT_FOUND"
	KindUserExists            Kind = "USER_EXISTS"
	KindUnknown               Kind = "UNKNOWN"
)

// Error is the engine's error type.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

var _ error = (*Error)(nil)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements error
func (e *Error) Error() string {
	str := string(e.Kind)
	if e.Message != "" {
		str += ": " + e.Message
	}
	return str
}

// Is reports kind equality so errors.Is works against bare kinds.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
