package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"meetline/internal/pkg/logx"
)

// CustomError is the error structure returned across service and handler boundaries.
// It carries a business code, a user-facing message and the HTTP status of its kind.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the user-friendly error description.
	Message string

	// Status is the HTTP status code corresponding to the code's kind.
	Status int
}

// Error implements the error interface.
func (e *CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Is reports whether target is a CustomError with the same code, so that
// errors.Is(err, errs.NewError(errs.ErrMeetingFull)) works on wrapped errors.
func (e *CustomError) Is(target error) bool {
	var other *CustomError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewError constructs a *CustomError from a predefined code. Details are printf
// arguments for message templates containing a verb. Unknown codes yield ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("unknown error code %d", code),
			"Unknown error code requested",
			"requested_code", code,
		)
		unknown := errorMap[ErrUnknown]
		return &unknown
	}

	customErr := templateErr

	if code == ErrUnknown && len(details) > 0 {
		if originalErr, ok := details[0].(error); ok {
			logx.Error(originalErr, "Handling ErrUnknown with underlying error")
		}
	} else if len(details) > 0 {
		if strings.Contains(customErr.Message, "%") {
			customErr.Message = fmt.Sprintf(customErr.Message, details...)
		} else {
			logx.Warn("Details provided for error without a message template. Details ignored.", "code", code)
		}
	}

	return &customErr
}

// From converts err into a *CustomError. Errors that are not CustomErrors are
// logged and reported as ErrUnknown, so no internal detail reaches the client.
func From(err error) *CustomError {
	if err == nil {
		return nil
	}

	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr
	}

	return NewError(ErrUnknown, err)
}

// HasCode reports whether err carries the given business code.
func HasCode(err error, code int) bool {
	var customErr *CustomError
	return errors.As(err, &customErr) && customErr.Code == code
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) && customErr.Status != 0 {
		return customErr.Status
	}
	return http.StatusInternalServerError
}
