package models

// Message represents a chat message in a room feed.
type Message struct {
	ID        string `json:"id"` // ULID
	RoomID    string `json:"room_id"`
	AuthorID  string `json:"author_id"` // Agent UUID
	Body      string `json:"message"`
	CreatedAt int64  `json:"created_at"` // Unix ms, assigned by the store
}

// NewerThan reports whether m sorts ahead of other in newest-first order.
// Equal ordering keys fall back to the ID so the order is total.
func (m Message) NewerThan(other Message) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt > other.CreatedAt
	}
	return m.ID > other.ID
}
