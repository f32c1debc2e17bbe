// Package xerrors defines the error taxonomy used across the trading
// subsystem (§7 of the specification): Transport, Protocol, SequenceGap,
// ExchangeBusiness, InvariantViolation, and Fatal. Each kind carries its own
// recovery policy at the call site; this package only gives the kind a
// name callers can branch on with errors.As.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error by its recovery policy.
type Kind int

const (
	// KindTransport covers network loss, timeouts, socket closes. Recovery:
	// bounded exponential backoff reconnect.
	KindTransport Kind = iota
	// KindProtocol covers JSON shape mismatches or missing fields. Recovery:
	// drop the frame, log at debug.
	KindProtocol
	// KindSequenceGap covers a depth delta whose pu != last_update_id.
	// Recovery: mark unsynced, throttled resync.
	KindSequenceGap
	// KindExchangeBusiness covers filter violations, insufficient balance,
	// unknown order. Recovery: never retried automatically.
	KindExchangeBusiness
	// KindInvariantViolation covers corrupted local state. Recovery: cancel
	// work for the affected symbol and re-fetch from the exchange.
	KindInvariantViolation
	// KindFatal covers duplicate process, missing config/credentials.
	// Recovery: refuse to start.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindSequenceGap:
		return "sequence_gap"
	case KindExchangeBusiness:
		return "exchange_business"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind and the symbol it pertains to
// (empty if not symbol-scoped).
type Error struct {
	Kind   Kind
	Symbol string
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind.
func New(kind Kind, symbol string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Symbol: symbol, Err: err}
}

// Transport wraps a transport-layer error.
func Transport(symbol string, err error) error { return New(KindTransport, symbol, err) }

// Protocol wraps a malformed-frame error.
func Protocol(symbol string, err error) error { return New(KindProtocol, symbol, err) }

// SequenceGap wraps a depth sequence-gap error.
func SequenceGap(symbol string, err error) error { return New(KindSequenceGap, symbol, err) }

// ExchangeBusiness wraps an exchange-rejected request.
func ExchangeBusiness(symbol string, err error) error {
	return New(KindExchangeBusiness, symbol, err)
}

// InvariantViolation wraps a detected local-state corruption.
func InvariantViolation(symbol string, err error) error {
	return New(KindInvariantViolation, symbol, err)
}

// Fatal wraps a startup-refusal error.
func Fatal(err error) error { return New(KindFatal, "", err) }

// Is reports whether err (or any error it wraps) is of the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.Kind == kind
}
