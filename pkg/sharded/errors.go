package sharded

import (
	"errors"
	"fmt"

	"gocloud.dev/gcerrors"
)

// Error is a failure status carrying a gocloud error code.
//
// The coordinator keeps the first Error (or any other error) it sees and hands
// it to every waiter unchanged. Use Code to classify errors regardless of
// whether they came from this package or from a gocloud driver.
type Error struct {
	Code gcerrors.ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sharded: %s: %v", e.Msg, e.Err)
	}
	return "sharded: " + e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns an *Error with the given code and formatted message.
func Errorf(code gcerrors.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// wrapErr returns an *Error with the given code wrapping err.
func wrapErr(code gcerrors.ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Code returns the error code for err. Errors created by this package report
// their own code, gocloud driver errors report theirs, and anything else is
// Unknown. A nil error is OK.
func Code(err error) gcerrors.ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return gcerrors.Code(err)
}

// CleanupError is returned by UploadFile when the upload succeeded but
// deleting the temporary shard objects failed. The composed object is
// returned alongside it and is valid.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("sharded: cleanup of shard objects failed: %v", e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return Code(err) == gcerrors.NotFound
}
