package errutil

import (
	"context"
	"errors"
)

// Code returns the CoreStatus carried by err, StatusInternal for foreign
// errors and the empty status for nil.
func Code(err error) CoreStatus {
	if err == nil {
		return ""
	}
	return ToBaseError(err).Code
}

// Is reports whether err carries the given status.
func Is(err error, code CoreStatus) bool {
	return err != nil && Code(err) == code
}

// ToBaseError normalises any error into a BaseError so handlers can render it.
func ToBaseError(err error) BaseError {
	if err == nil {
		return BaseError{}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	if errors.Is(err, context.Canceled) {
		return BaseError{Code: StatusClientClosedRequest, Message: "request canceled", Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return BaseError{Code: StatusTimeout, Message: "request timed out", Err: err}
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return BaseError{Code: coder.Status(), Message: err.Error(), Err: err}
	}

	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}
