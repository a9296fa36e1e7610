package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyVerified indicates a conditional verified-flag update matched
	// a record that a racing call already moved to its terminal state.
	ErrAlreadyVerified = errors.New("repository: already verified")
	// ErrAttemptsExhausted indicates a conditional attempt increment matched
	// a record whose budget is already spent.
	ErrAttemptsExhausted = errors.New("repository: attempts exhausted")
)
