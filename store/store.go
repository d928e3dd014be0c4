// Package store implements the persistent system of record on top of gorm:
// job lifecycle with compare-and-set transitions, rule versioning with the
// publish/rollback protocol, push logs and pipeline executions.
//
// The job store is the single synchronization point between workers. Every
// status change goes through a CAS update (WHERE id = ? AND status = ?); a
// worker that loses the race observes zero affected rows and drops its
// message.
package store

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidTransition is returned when a requested status change is
	// not permitted by the state machine.
	ErrInvalidTransition = errors.New("store: invalid status transition")

	// ErrConflict is returned when a CAS update lost the race: the row was
	// not in the expected source status.
	ErrConflict = errors.New("store: concurrent update conflict")

	// ErrNoPublishedVersion is returned when a rule has never been
	// published.
	ErrNoPublishedVersion = errors.New("store: rule has no published version")
)
