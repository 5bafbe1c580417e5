// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrCompanyNotFound      = errors.New("company not found")
	ErrCompanyAlreadyExists = errors.New("company already exists")
	ErrCounterpartyNotFound = errors.New("counterparty company not found")
	ErrPositionNotFound     = errors.New("position not found")
	ErrSelfObligation       = errors.New("company cannot hold a position against itself")
	ErrMalformedPosition    = errors.New("malformed position")
	ErrInsufficientTokens   = errors.New("insufficient token balance")
	ErrDuplicateRequest     = errors.New("duplicate request")

	// Loop errors
	ErrLoopNotFound      = errors.New("loop not found")
	ErrLoopNotPending    = errors.New("loop is not pending")
	ErrLoopExpired       = errors.New("loop has expired")
	ErrLoopInvalidated   = errors.New("loop no longer forms a valid cycle")
	ErrNotParticipant    = errors.New("company is not a loop participant")
	ErrAlreadyResponded  = errors.New("participant has already responded")
	ErrExecutionRejected = errors.New("settlement execution failed")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
