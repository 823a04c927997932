package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Code is a stable, machine-readable error type shared by every layer.
type Code int

const (
	CodeInternal Code = iota + 1
	CodeValidation
	CodeNotFound
	CodeConflict
	CodeDecryption
	CodeKeyMismatch
	CodeRPCUnavailable
	CodeTimeout
	CodeBroadcast
	CodeInsufficientFunds
	CodeNoRoute
	CodeDuplicateAddress
	CodeBusy
)

var codeNames = map[Code]string{
	CodeInternal:          "internal",
	CodeValidation:        "validation",
	CodeNotFound:          "not_found",
	CodeConflict:          "conflict",
	CodeDecryption:        "decryption",
	CodeKeyMismatch:       "key_mismatch",
	CodeRPCUnavailable:    "rpc_unavailable",
	CodeTimeout:           "timeout",
	CodeBroadcast:         "broadcast",
	CodeInsufficientFunds: "insufficient_funds",
	CodeNoRoute:           "no_route",
	CodeDuplicateAddress:  "duplicate_address",
	CodeBusy:              "busy",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "unknown"
}

// Sentinels for errors.Is comparisons. Matching is by code only.
var (
	ErrInternal          = New(CodeInternal, "internal error")
	ErrValidation        = New(CodeValidation, "invalid input")
	ErrNotFound          = New(CodeNotFound, "not found")
	ErrConflict          = New(CodeConflict, "conflict")
	ErrDecryption        = New(CodeDecryption, "decryption failed")
	ErrKeyMismatch       = New(CodeKeyMismatch, "restored key does not match wallet address")
	ErrRPCUnavailable    = New(CodeRPCUnavailable, "upstream unavailable")
	ErrTimeout           = New(CodeTimeout, "deadline exceeded")
	ErrBroadcast         = New(CodeBroadcast, "transaction rejected")
	ErrInsufficientFunds = New(CodeInsufficientFunds, "insufficient funds")
	ErrNoRoute           = New(CodeNoRoute, "no route")
	ErrDuplicateAddress  = New(CodeDuplicateAddress, "address already registered")
	ErrBusy              = New(CodeBusy, "operation already in progress")
)

// Error carries a stable code, an operator-facing message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Validation(message string) *Error {
	return New(CodeValidation, message)
}

func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

var userMessages = map[Code]string{
	CodeInternal:          "Something went wrong on our side. Please try again later.",
	CodeNotFound:          "We could not find what you were looking for.",
	CodeConflict:          "That already exists.",
	CodeDecryption:        "Your wallet could not be unlocked. Please contact support.",
	CodeKeyMismatch:       "Your wallet could not be unlocked. Please contact support.",
	CodeRPCUnavailable:    "The network is not reachable right now. Please try again in a moment.",
	CodeTimeout:           "The network took too long to respond. Please try again.",
	CodeBroadcast:         "The transaction was rejected by the network. No funds were moved.",
	CodeInsufficientFunds: "Your balance is too low for this purchase.",
	CodeNoRoute:           "No swap route is available for this pair right now.",
	CodeDuplicateAddress:  "This wallet address is already registered.",
	CodeBusy:              "Another operation on this wallet is still running. Please wait.",
}

// UserMessage returns text that is safe to show an end user. Validation
// messages are authored by this codebase and are passed through; every other
// message is replaced by a fixed sentence so provider bodies never leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return userMessages[CodeInternal]
	}
	if appErr.Code == CodeValidation {
		return appErr.Message
	}
	if msg, ok := userMessages[appErr.Code]; ok {
		return msg
	}
	return userMessages[CodeInternal]
}

// HTTPStatus maps an error to the response status used by the HTTP API.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicateAddress, CodeBusy:
		return http.StatusConflict
	case CodeInsufficientFunds, CodeNoRoute:
		return http.StatusUnprocessableEntity
	case CodeRPCUnavailable, CodeBroadcast:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// LogLevel is the level a failure is logged at. Business rejections stay at
// info, untyped and internal failures are errors, and every other code is a
// warning. Callers log only the code at this level; causes go to debug.
func LogLevel(err error) slog.Level {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeConflict, CodeInsufficientFunds, CodeNoRoute, CodeBusy:
		return slog.LevelInfo
	case CodeInternal:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
