// Package domainerrors carries stable error codes across layer boundaries.
// Services attach a Code describing what went wrong in business terms; the
// HTTP layer maps codes to status lines without inspecting messages.
package domainerrors

import "errors"

// Code classifies a failure independently of any transport.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeTimeout      Code = "timeout"

	// Issuance policy codes.
	CodeInsufficientPermission Code = "insufficient_permission"
	CodeUnauthorizedRole       Code = "unauthorized_role"

	// Credential construction codes.
	CodeCredentialTypeUnsupported Code = "credential_type_unsupported"
	CodeInvalidCredentialFormat   Code = "invalid_credential_format"
	CodeMissingRequiredField      Code = "missing_required_field"

	// Issuance protocol codes.
	CodeInvalidProof      Code = "invalid_or_missing_proof"
	CodeExpiredOrUsedCode Code = "expired_or_used_code"

	// Signing pipeline codes.
	CodeUnsupportedFormat Code = "unsupported_format"
	CodeEncoding          Code = "encoding_error"
	CodeSigning           Code = "signing_error"

	// Notification codes. Email failures never roll back a completed
	// status transition; they surface under this code instead.
	CodeEmailDelivery Code = "email_delivery_failed"
)

// Error is a coded failure. Message is what callers show; when it is empty
// the code itself serves as the message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by code, so errors.Is(err, &Error{Code: c})
// works on wrapped chains.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

// New builds a coded error with a caller-facing message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A domain error already in the
// chain keeps its original code; only the message is replaced.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		code = existing.Code
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether a domain error with the given code is in the chain.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
