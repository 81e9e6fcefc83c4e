package crypto

import (
	"strings"

	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewNonce returns a 32-character random request nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
