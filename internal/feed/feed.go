// Package feed keeps a newest-first window over a room's messages, pages
// older history in on demand and merges live updates without duplicates.
package feed

import (
	"context"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// DefaultPageSize is the number of messages requested per query.
const DefaultPageSize = 20

// Query selects at most Limit messages of a room, newest first.
type Query struct {
	RoomID string
	Limit  int
	// Before is an exclusive upper bound on CreatedAt. Zero means unbounded.
	Before int64
}

// Snapshot is one emission of a watched query. A non-nil Err ends the stream.
type Snapshot struct {
	Messages []models.Message
	Err      error
}

// Source runs a query and keeps re-running it whenever the room changes.
// The returned channel is closed once ctx is done.
type Source interface {
	Watch(ctx context.Context, q Query) (<-chan Snapshot, error)
}

// Writer appends a message. Implementations assign CreatedAt.
type Writer interface {
	AddMessage(ctx context.Context, msg *models.Message) error
}

// Actor is the identity a message is posted as.
type Actor struct {
	ID   string
	Name string
}

// SignInResult reports the outcome of a sign-in handshake.
// Status 200 means the identity service now has a current actor.
type SignInResult struct {
	Status  int
	Message string
}

// Identity exposes the current actor and performs sign-in.
type Identity interface {
	Current() *Actor
	SignIn(ctx context.Context) (SignInResult, error)
}
