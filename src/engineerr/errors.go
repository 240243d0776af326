// Package engineerr defines the sentinel error kinds surfaced by the
// B+ tree storage engine. Internal retries are never performed here;
// every failure a caller can observe is one of these values, optionally
// wrapped with context via fmt.Errorf("...: %w", ...).
package engineerr

import "errors"

// ErrBadArgument is returned for a malformed key, an entry exceeding the
// file's tupleSize, or a delete/update of a key that is not present.
var ErrBadArgument = errors.New("btree2: bad argument")

// ErrUniquenessViolation is returned when an insert would produce two
// equal entries under a unique Compare.
var ErrUniquenessViolation = errors.New("btree2: uniqueness violation")

// ErrNullabilityViolation is returned when NULL is inserted into a
// NOT NULL key field.
var ErrNullabilityViolation = errors.New("btree2: nullability violation")

// ErrVerifyAborted is returned when an integrity check found an
// inconsistency and the caller's treatment flag forbids continuing.
var ErrVerifyAborted = errors.New("btree2: verify aborted")

// ErrCancel is returned when cooperative cancellation was observed.
var ErrCancel = errors.New("btree2: canceled")

// ErrNotSupported is returned for an unrecognized type, field count, or
// fix-mode combination, and for clustered-index hints (see
// SPEC_FULL.md Open Question 1).
var ErrNotSupported = errors.New("btree2: not supported")

// ErrFileNotFound, ErrLogItemCorrupted, ErrTooLongObjectName and
// ErrMetaDatabaseCorrupted propagate catalog/log layer conditions
// unchanged; the core never raises them itself but accepts them from
// host collaborators without translation.
var (
	ErrFileNotFound         = errors.New("btree2: file not found")
	ErrLogItemCorrupted     = errors.New("btree2: log item corrupted")
	ErrTooLongObjectName    = errors.New("btree2: object name too long")
	ErrMetaDatabaseCorrupted = errors.New("btree2: meta database corrupted")
)
