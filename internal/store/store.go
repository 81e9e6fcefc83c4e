package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// DataStore defines the interface for persistent storage of agents and rooms.
// PostgresStore, SQLiteStore and MemoryStore implement this interface.
type DataStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Agent operations
	CreateAgent(ctx context.Context, publicKey, name string) (*models.Agent, error)
	GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	GetAgentByPublicKey(ctx context.Context, publicKey string) (*models.Agent, error)

	// Room operations
	CreateRoom(ctx context.Context, name string, isPrivate bool, keyHash string, createdBy *uuid.UUID) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetRoomKeyHash(ctx context.Context, id uuid.UUID) (string, error)
	ListPublicRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error)
	IncrementMessageCount(ctx context.Context, id uuid.UUID) error
}

// MessageStore holds room messages ordered by CreatedAt.
// RedisStore, PostgresStore, SQLiteStore, PebbleStore and MemoryStore
// implement this interface.
type MessageStore interface {
	Close() error
	Ping(ctx context.Context) error

	// AddMessage assigns CreatedAt (and ID when empty) and stores msg. When
	// the ID is already stored nothing is written, msg.CreatedAt is set to
	// the stored key and ErrMessageExists is returned.
	AddMessage(ctx context.Context, msg *models.Message) error

	// GetRoomMessages returns up to limit messages, newest first. A positive
	// before excludes messages whose CreatedAt is not strictly older.
	GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error)

	// Changes signals after every message added to roomID. The channel is
	// closed when ctx is done.
	Changes(ctx context.Context, roomID string) (<-chan struct{}, error)
}

// NonceStore records signature nonces to reject replays.
type NonceStore interface {
	IsNonceUsed(ctx context.Context, agentID, nonce string) bool
	MarkNonceUsed(ctx context.Context, agentID, nonce string, ttl time.Duration)
}
