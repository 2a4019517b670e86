// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clierr carries process exit codes on errors returned by commands.
package clierr

import (
	"errors"
	"fmt"

	"github.com/bartekus/commitver/internal/engine"
	"github.com/bartekus/commitver/internal/ledger"
)

// Exit codes.
const (
	CodeGeneric            = 1
	CodeUsage              = 2
	CodeCheckpointNotFound = 3
	CodeCorruptLedger      = 4
)

type ExitCoder interface {
	error
	ExitCode() int
}

// ExitError is an error that carries an explicit process exit code.
// It supports wrapping via Unwrap so errors.Is/As work as expected.
type ExitError struct {
	code  int
	msg   string
	cause error
}

func (e *ExitError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.cause)
}

func (e *ExitError) ExitCode() int { return e.code }

// Unwrap enables errors.Is/As to traverse the underlying cause.
func (e *ExitError) Unwrap() error { return e.cause }

// New creates an ExitError with a message.
func New(code int, msg string) error {
	return &ExitError{code: normalize(code), msg: msg}
}

// Wrap creates an ExitError that wraps an underlying cause.
func Wrap(code int, msg string, cause error) error {
	if cause == nil {
		return New(code, msg)
	}
	return &ExitError{code: normalize(code), msg: msg, cause: cause}
}

// Usage marks err as a usage or configuration problem.
func Usage(err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{code: CodeUsage, msg: "invalid usage", cause: err}
}

// ExitCodeOf extracts an exit code from any error, defaulting to 1. Engine
// sentinels map to their dedicated codes even when not wrapped in an
// ExitError.
func ExitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var ec ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	switch {
	case errors.Is(err, engine.ErrCheckpointNotFound):
		return CodeCheckpointNotFound
	case errors.Is(err, ledger.ErrCorruptLedger):
		return CodeCorruptLedger
	}
	return CodeGeneric
}

func normalize(code int) int {
	// Exit code 0 means success; errors should never be 0.
	if code <= 0 {
		return CodeGeneric
	}
	return code
}
