package httperrors

import (
	"errors"
	"net/http"

	dErrors "vcissuer/pkg/domain-errors"
)

// ToHTTPStatus maps a domain error code onto an HTTP status so handlers stay
// free of per-endpoint switch statements.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeValidation,
		dErrors.CodeInvalidCredentialFormat, dErrors.CodeMissingRequiredField,
		dErrors.CodeUnsupportedFormat, dErrors.CodeCredentialTypeUnsupported:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized, dErrors.CodeInvalidProof, dErrors.CodeExpiredOrUsedCode:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeInsufficientPermission, dErrors.CodeUnauthorizedRole:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeSigning, dErrors.CodeEncoding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor resolves the HTTP status for any error, defaulting to 500 for
// non-domain errors.
func StatusFor(err error) (int, dErrors.Code) {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return ToHTTPStatus(de.Code), de.Code
	}
	return http.StatusInternalServerError, dErrors.CodeInternal
}
