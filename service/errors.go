package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundError reports a missing record.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string {
	return e.Msg
}

// InvalidInputError reports a payload that failed validation.
type InvalidInputError struct {
	Msg string
}

func (e *InvalidInputError) Error() string {
	return e.Msg
}

func notFound(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}

func invalidInput(msg string) error {
	return &InvalidInputError{Msg: msg}
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}
