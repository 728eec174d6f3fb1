package security

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewJTI returns a unique, time-ordered refresh token id.
func NewJTI() string {
	return ulid.Make().String()
}

// NewFamilyID returns a new refresh token family id.
func NewFamilyID() string {
	return uuid.NewString()
}

// NewSessionID returns a new session row id, independent of any token value.
func NewSessionID() string {
	return uuid.NewString()
}
