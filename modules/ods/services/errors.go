package services

import (
	"errors"
	"fmt"

	"github.com/iota-uz/ods/modules/ods/domain/organisation"
	"github.com/iota-uz/ods/modules/ods/infrastructure/source"
)

// ErrInvalidParameter rejects malformed search options before any query runs.
var ErrInvalidParameter = errors.New("invalid parameter")

const (
	CodeUnsupportedVersion = "ODS_UNSUPPORTED_VERSION"
	CodeMalformedSource    = "ODS_MALFORMED_SOURCE"
	CodeIntegrity          = "ODS_INTEGRITY"
	CodeNamespaceMismatch  = "ODS_NAMESPACE_MISMATCH"
	CodeInvalidParameter   = "ODS_INVALID_PARAMETER"
	CodeInternal           = "ODS_INTERNAL"
)

// ServiceError carries a stable code for callers that map failures onto
// their own surface (exit codes, HTTP statuses).
type ServiceError struct {
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(code, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, Cause: cause}
}

func invalidParameter(format string, args ...any) error {
	return newServiceError(CodeInvalidParameter, fmt.Sprintf(format, args...), ErrInvalidParameter)
}

// ErrorCode classifies err into one of the Code* constants.
func ErrorCode(err error) string {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	switch {
	case errors.Is(err, source.ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(err, source.ErrMalformedSource):
		return CodeMalformedSource
	case errors.Is(err, organisation.ErrNamespaceMismatch):
		return CodeNamespaceMismatch
	case errors.Is(err, organisation.ErrIntegrity):
		return CodeIntegrity
	case errors.Is(err, ErrInvalidParameter):
		return CodeInvalidParameter
	default:
		return CodeInternal
	}
}
