package main

import (
	"errors"

	"github.com/iota-uz/ods/modules/ods/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	exitFormat     = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// classify picks an exit code from the service error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return err
	}
	switch services.ErrorCode(err) {
	case services.CodeUnsupportedVersion, services.CodeMalformedSource:
		return withCode(exitFormat, err)
	case services.CodeIntegrity, services.CodeNamespaceMismatch:
		return withCode(exitDBWrite, err)
	case services.CodeInvalidParameter:
		return withCode(exitValidation, err)
	default:
		return withCode(exitDB, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
