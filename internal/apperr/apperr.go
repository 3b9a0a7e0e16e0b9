// Package apperr defines the caller-visible error taxonomy of the ledger.
//
// Every failure that leaves a service is an *Error carrying a Kind, which
// decides how callers may react, and a stable Code, which is what clients
// match on. Wrapped causes are kept for logging and errors.Is/As but are
// never rendered to callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the caller is expected to react.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindInsufficientFunds
	KindNotFound
	KindConflict
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Retryable reports whether repeating the whole operation unchanged may succeed.
func (k Kind) Retryable() bool {
	return k == KindConflict || k == KindUnavailable
}

// Code is a stable machine-readable error identifier.
type Code string

const (
	CodeMalformedRequest    Code = "MALFORMED_REQUEST"
	CodeMissingField        Code = "MISSING_FIELD"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeSelfTransfer        Code = "SELF_TRANSFER"
	CodeInvalidKeyLength    Code = "INVALID_KEY_LENGTH"
	CodeInvalidKey          Code = "INVALID_KEY"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeRecipientNotFound   Code = "RECIPIENT_NOT_FOUND"
	CodeAccountExists       Code = "ACCOUNT_EXISTS"
	CodeStorageConflict     Code = "STORAGE_CONFLICT"
	CodeEntropyUnavailable  Code = "ENTROPY_UNAVAILABLE"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"
	CodeIssueRateLimited    Code = "KEY_ISSUE_RATE_LIMITED"
	CodeInternal            Code = "INTERNAL"
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

// New creates an error without a cause.
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error carrying err as its cause.
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrMalformedRequest    = New(KindValidation, CodeMalformedRequest, "request body is not valid JSON")
	ErrMissingField        = New(KindValidation, CodeMissingField, "missing required fields")
	ErrInvalidAmount       = New(KindValidation, CodeInvalidAmount, "amount must be positive")
	ErrSelfTransfer        = New(KindValidation, CodeSelfTransfer, "sender and recipient must differ")
	ErrInvalidKeyLength    = New(KindValidation, CodeInvalidKeyLength, "key length must be positive")
	ErrInvalidKey          = New(KindAuthorization, CodeInvalidKey, "invalid key")
	ErrInsufficientBalance = New(KindInsufficientFunds, CodeInsufficientBalance, "insufficient balance")
	ErrAccountNotFound     = New(KindNotFound, CodeAccountNotFound, "account not found")
	ErrRecipientNotFound   = New(KindNotFound, CodeRecipientNotFound, "recipient not found")
	ErrAccountExists       = New(KindConflict, CodeAccountExists, "account already exists")
	ErrStorageConflict     = New(KindConflict, CodeStorageConflict, "concurrent update, retry")
	ErrEntropyUnavailable  = New(KindUnavailable, CodeEntropyUnavailable, "entropy source unavailable")
	ErrStorageUnavailable  = New(KindUnavailable, CodeStorageUnavailable, "storage unavailable")
	ErrIssueRateLimited    = New(KindUnavailable, CodeIssueRateLimited, "too many keys issued, try again later")
)

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return CodeInternal
}

// PublicMessage returns a message safe to show a caller. Causes are dropped.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return "internal error"
}

// HTTPStatus maps a Kind onto a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
