// Package persistence error types shared by every storage backend.
package persistence

import "errors"

var (
	// ErrGraphNotFound indicates no workflow graph exists for the id.
	ErrGraphNotFound = errors.New("workflow graph not found")

	// ErrDocumentNotFound indicates no document exists for the id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrTaskNotFound indicates no matching approval task exists.
	ErrTaskNotFound = errors.New("approval task not found")

	// ErrRunNotFound indicates no matching fork/join run exists.
	ErrRunNotFound = errors.New("fork run not found")

	// ErrResumptionNotFound indicates no matching pending resumption exists.
	ErrResumptionNotFound = errors.New("pending resumption not found")

	// ErrVersionConflict indicates the optimistic state write lost the
	// race: another writer advanced the document first.
	ErrVersionConflict = errors.New("document version conflict")
)

// IsNotFound reports whether the error is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrGraphNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrResumptionNotFound)
}

// IsVersionConflict reports whether the error is the CAS conflict sentinel.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
