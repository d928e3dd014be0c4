package model

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewJobID returns a ULID. Job IDs sort lexically by creation time, which
// keeps "newest duplicate" lookups and log output readable.
func NewJobID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NewID returns a random UUID for secondary records (versions, push logs,
// executions).
func NewID() string {
	return uuid.NewString()
}
