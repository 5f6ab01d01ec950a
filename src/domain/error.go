package domain

import (
	"net/http"

	"github.com/ethaccount/aawallet/erc4337"
)

type ErrorCode string

const (
	ErrorCodeParameterInvalid     ErrorCode = "PARAMETER_INVALID"
	ErrorCodeResourceNotFound     ErrorCode = "RESOURCE_NOT_FOUND"
	ErrorCodeAuthPermissionDenied ErrorCode = "AUTH_PERMISSION_DENIED"
	ErrorCodeAuthNotAuthenticated ErrorCode = "AUTH_NOT_AUTHENTICATED"
	ErrorCodeOperationRejected    ErrorCode = "OPERATION_REJECTED"
	ErrorCodeInternalProcess      ErrorCode = "INTERNAL_PROCESS"
	ErrorCodeRemoteProcess        ErrorCode = "REMOTE_PROCESS_ERROR"
)

// DomainError carries an error code and an optional client-facing message
// through the service layer to the HTTP response.
type DomainError struct {
	code      ErrorCode
	err       error
	clientMsg string
	detail    map[string]interface{}
}

type ErrorOption func(*DomainError)

func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.clientMsg = msg
	}
}

func WithDetail(key string, value interface{}) ErrorOption {
	return func(e *DomainError) {
		if e.detail == nil {
			e.detail = make(map[string]interface{})
		}
		e.detail[key] = value
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) error {
	e := DomainError{code: code, err: err}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewOperationError tags an error raised while validating or running a user
// operation with its failure class.
func NewOperationError(err error, opts ...ErrorOption) error {
	opts = append([]ErrorOption{WithDetail("failure", string(erc4337.Classify(err)))}, opts...)
	return NewError(ErrorCodeOperationRejected, err, opts...)
}

func (e DomainError) Error() string {
	if e.err == nil {
		return string(e.code)
	}
	return e.err.Error()
}

func (e DomainError) Unwrap() error {
	return e.err
}

// Name is the error code, INTERNAL_PROCESS for a zero DomainError.
func (e DomainError) Name() string {
	if e.code == "" {
		return string(ErrorCodeInternalProcess)
	}
	return string(e.code)
}

func (e DomainError) ClientMsg() string {
	return e.clientMsg
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

func (e DomainError) HTTPStatus() int {
	switch e.code {
	case ErrorCodeParameterInvalid:
		return http.StatusBadRequest
	case ErrorCodeResourceNotFound:
		return http.StatusNotFound
	case ErrorCodeAuthNotAuthenticated:
		return http.StatusUnauthorized
	case ErrorCodeAuthPermissionDenied:
		return http.StatusForbidden
	case ErrorCodeOperationRejected:
		return http.StatusUnprocessableEntity
	case ErrorCodeRemoteProcess:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
