package escrow

import (
	"errors"
	"net/http"
)

// ErrorKind is the uniform error taxonomy of spec.md §7, surfaced by the
// state machine and propagated without loss through the client library and
// the gateway's HTTP translation.
type ErrorKind string

const (
	ErrBadRequest        ErrorKind = "BadRequest"
	ErrSchemeMismatch    ErrorKind = "SchemeMismatch"
	ErrTaskHashMismatch  ErrorKind = "TaskHashMismatch"
	ErrWrongStatus       ErrorKind = "WrongStatus"
	ErrWrongSigner       ErrorKind = "WrongSigner"
	ErrWrongAuthority    ErrorKind = "WrongAuthority"
	ErrAlreadyExists     ErrorKind = "AlreadyExists"
	ErrInsufficientFunds ErrorKind = "InsufficientFunds"
	ErrTransientNetwork  ErrorKind = "TransientNetwork"
	ErrLedgerReject      ErrorKind = "LedgerReject"
	ErrNotVerified       ErrorKind = "NotVerified"
	ErrZeroAmount        ErrorKind = "ZeroAmount"
	ErrServiceIDTooLong  ErrorKind = "ServiceIdTooLong"
	ErrBadTokenAccount   ErrorKind = "BadTokenAccount"
	ErrBalanceMismatch   ErrorKind = "BalanceMismatch"
)

// Error wraps an ErrorKind with a human-readable message while remaining
// comparable via errors.Is against the bare sentinels below.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

// Is implements errors.Is support so callers can write
// errors.Is(err, &escrow.Error{Kind: escrow.ErrWrongStatus}) style checks, but
// the idiomatic form in this codebase is comparing Kind directly via KindOf.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newErr(kind ErrorKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf extracts the ErrorKind from err, or "" if err is not (or does not
// wrap) an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatusFor maps an ErrorKind to its §7 HTTP status, the single
// translation table every HTTP-facing layer (x402 provider middleware,
// payment gateway) uses so error kinds surface uniformly across both.
func HTTPStatusFor(kind ErrorKind) int {
	switch kind {
	case ErrNotVerified:
		return http.StatusPaymentRequired
	case ErrBadRequest, ErrSchemeMismatch, ErrTaskHashMismatch:
		return http.StatusBadRequest
	case ErrWrongStatus, ErrAlreadyExists:
		return http.StatusConflict
	case ErrWrongSigner, ErrWrongAuthority:
		return http.StatusForbidden
	case ErrTransientNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
