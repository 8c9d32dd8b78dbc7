package errors

import (
	"errors"
	"fmt"
)

// Standard codes shared across packages. Domain packages such as pkg/broker
// build their errors from these codes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeUnimplemented      = "UNIMPLEMENTED"
	CodeInternal           = "INTERNAL"
)

// grpcCode maps standard codes to their google.golang.org/grpc/codes.Code values,
// kept as plain ints here so this package has no gRPC dependency of its own.
var grpcCode = map[string]int{
	CodeInvalidArgument:    3,
	CodeNotFound:           5,
	CodeAlreadyExists:      6,
	CodeResourceExhausted:  8,
	CodeFailedPrecondition: 9,
	CodeUnimplemented:      12,
	CodeInternal:           13,
}

// AppError is the structured error type used throughout the system.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// New creates an AppError. err may be nil when there is no underlying cause.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Wrap attaches a message to an existing error and gives it CodeInternal.
// Used for config/IO-style failures that don't need a more specific code.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &AppError{Code: CodeInternal, Message: message, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, &AppError{Code: X}) match on code alone.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// GRPCCode returns the gRPC status code number for this error's Code,
// or Internal (13) if the code is not one of the standard taxonomy.
func (e *AppError) GRPCCode() int {
	if c, ok := grpcCode[e.Code]; ok {
		return c
	}
	return grpcCode[CodeInternal]
}

// CodeOf extracts the Code of err if it (or something it wraps) is an *AppError.
func CodeOf(err error) (string, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return "", false
}
