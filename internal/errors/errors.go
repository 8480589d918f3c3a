package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrBackendUnavailable = &AppError{Code: "STORE_001", Message: "persistence backend unavailable"}
	ErrDocumentCorrupted  = &AppError{Code: "STORE_002", Message: "record document corrupted"}
	ErrFlushFailed        = &AppError{Code: "STORE_003", Message: "record document flush failed"}

	ErrUpstreamUnavailable = &AppError{Code: "UPSTREAM_001", Message: "clinical API unavailable"}
	ErrUpstreamOpen        = &AppError{Code: "UPSTREAM_002", Message: "clinical API circuit open"}
	ErrUpstreamThrottled   = &AppError{Code: "UPSTREAM_003", Message: "clinical API rate limit exceeded"}

	ErrAuditUnavailable = &AppError{Code: "AUDIT_001", Message: "audit store unavailable"}

	ErrSnapshotFailed = &AppError{Code: "SNAP_001", Message: "snapshot export failed"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
