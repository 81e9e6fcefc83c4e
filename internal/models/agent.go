package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent is a registered chat participant, identified by its Ed25519 key.
type Agent struct {
	ID        uuid.UUID `json:"id"`
	PublicKey string    `json:"public_key"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
