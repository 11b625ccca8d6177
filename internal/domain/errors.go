package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies per-item failures surfaced on a Transaction.
type ErrorKind string

const (
	ErrKindCaptureIncomplete ErrorKind = "capture-incomplete"
	ErrKindNetwork           ErrorKind = "network"
	ErrKindTimeout           ErrorKind = "timeout"
)

var (
	// ErrNotFound is returned when an operation references an unknown
	// transaction id.
	ErrNotFound = errors.New("transaction not found")
	// ErrInvalidOptions signals a programming-contract violation in replay
	// options; it is surfaced before any work starts.
	ErrInvalidOptions = errors.New("invalid replay options")
	// ErrReplayed rejects an in-place request update on a transaction that
	// already served as a replay origin. Callers derive a copy instead.
	ErrReplayed = errors.New("transaction already replayed")
)

// ParseError reports a malformed record during import. Index is the
// zero-based position of the offending entry; -1 means the document
// envelope itself could not be parsed.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("parse error: %v", e.Err)
	}
	return fmt.Sprintf("parse error at entry %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
