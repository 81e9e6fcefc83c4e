package models

import (
	"time"

	"github.com/google/uuid"
)

// GlobalRoomID is the room every deployment seeds on first start.
const GlobalRoomID = "00000000-0000-0000-0000-000000000001"

// Room is a named message feed.
type Room struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	IsPrivate    bool       `json:"is_private"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
	MessageCount int64      `json:"message_count"`
}
