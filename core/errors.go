// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes. Every error surfaced by the registries and the resource engine
// carries one of these codes; the HTTP layer maps them to status codes.
const (
	EInvalid      = "invalid"
	ENotFound     = "not found"
	EConflict     = "conflict"
	EUnauthorized = "unauthorized"
	EInternal     = "internal error"
)

// Error is the error type of the core packages.
//
// Code is meant for the caller, Msg for humans. Op names the operation
// where the error happened, Err is the wrapped cause (if any).
//
//	&core.Error{Code: core.ENotFound, Op: "objtype.ResolveByName", Msg: "no such object type Agent"}
type Error struct {
	Code string
	Msg  string
	Op   string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		b.WriteString(e.Msg)
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString("<" + e.Code + ">")
	}
	return b.String()
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns a new error with code and operation and a formatted message
func Errorf(code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps err as an internal error of operation op. A nil err yields nil.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Code: EInternal, Op: op, Err: err}
}

// ErrorCode returns the code of the first *Error in err's chain. Errors
// without a code are internal errors, nil has no code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return ErrorCode(e.Err)
	}
	return EInternal
}

// IsNotFound returns true if err carries the ENotFound code
func IsNotFound(err error) bool {
	return ErrorCode(err) == ENotFound
}

// HTTPStatus maps the code of err to an HTTP status code
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case "":
		return http.StatusOK
	case EInvalid:
		return http.StatusBadRequest
	case ENotFound:
		return http.StatusNotFound
	case EConflict:
		return http.StatusConflict
	case EUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
