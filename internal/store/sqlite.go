package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/models"
)

// SQLiteStore handles SQLite database operations. It serves both agents and
// rooms and, when MESSAGE_STORE=sqlite, room messages.
type SQLiteStore struct {
	db     *sql.DB
	clock  Clock
	broker *broker
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/pagechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/pagechat.db"
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db, broker: newBroker()}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		public_key TEXT UNIQUE NOT NULL,
		name TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_private INTEGER DEFAULT 0,
		key_hash TEXT,
		created_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Single row holding the last ordering key handed out by any process
	-- sharing this file.
	CREATE TABLE IF NOT EXISTS message_clock (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO message_clock (id, last) VALUES (1, 0);

	CREATE INDEX IF NOT EXISTS idx_rooms_is_private ON rooms(is_private);
	CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms(last_active_at);
	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at DESC, id DESC);

	-- Seed global room if not exists
	INSERT OR IGNORE INTO rooms (id, name, is_private)
	VALUES ('00000000-0000-0000-0000-000000000001', 'global', 0);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateAgent creates a new agent record.
func (s *SQLiteStore) CreateAgent(ctx context.Context, publicKey, name string) (*models.Agent, error) {
	id := crypto.NewUUIDv7()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, public_key, name, created_at)
		VALUES (?, ?, ?, ?)
	`, id.String(), publicKey, name, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return s.GetAgentByID(ctx, id)
}

// GetAgentByID retrieves an agent by ID.
func (s *SQLiteStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, name, created_at
		FROM agents WHERE id = ?
	`, id.String()))
}

// GetAgentByPublicKey retrieves an agent by public key.
func (s *SQLiteStore) GetAgentByPublicKey(ctx context.Context, publicKey string) (*models.Agent, error) {
	return s.scanAgent(s.db.QueryRowContext(ctx, `
		SELECT id, public_key, name, created_at
		FROM agents WHERE public_key = ?
	`, publicKey))
}

func (s *SQLiteStore) scanAgent(row *sql.Row) (*models.Agent, error) {
	agent := &models.Agent{}
	var idStr string
	err := row.Scan(&idStr, &agent.PublicKey, &agent.Name, &agent.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	agent.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// CreateRoom creates a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, isPrivate bool, keyHash string, createdBy *uuid.UUID) (*models.Room, error) {
	id := crypto.NewUUIDv7()
	now := time.Now().UTC()

	var createdByStr *string
	if createdBy != nil {
		str := createdBy.String()
		createdByStr = &str
	}

	var keyHashPtr *string
	if keyHash != "" {
		keyHashPtr = &keyHash
	}

	isPrivateInt := 0
	if isPrivate {
		isPrivateInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, is_private, key_hash, created_by, created_at, last_active_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	`, id.String(), name, isPrivateInt, keyHashPtr, createdByStr, now, now)
	if err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRoom(row rowScanner) (*models.Room, error) {
	room := &models.Room{}
	var idStr string
	var createdByStr *string
	var isPrivateInt int

	err := row.Scan(
		&idStr,
		&room.Name,
		&isPrivateInt,
		&createdByStr,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		return nil, err
	}

	if room.ID, err = uuid.Parse(idStr); err != nil {
		return nil, err
	}
	room.IsPrivate = isPrivateInt == 1
	if createdByStr != nil {
		if createdBy, err := uuid.Parse(*createdByStr); err == nil {
			room.CreatedBy = &createdBy
		}
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := scanSQLiteRoom(s.db.QueryRowContext(ctx, `
		SELECT id, name, is_private, created_by, created_at, last_active_at, message_count
		FROM rooms WHERE id = ?
	`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return room, err
}

// GetRoomKeyHash retrieves the key hash for a private room.
func (s *SQLiteStore) GetRoomKeyHash(ctx context.Context, id uuid.UUID) (string, error) {
	var keyHash *string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash FROM rooms WHERE id = ?
	`, id.String()).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	if keyHash == nil {
		return "", nil
	}
	return *keyHash, nil
}

// ListPublicRooms retrieves public rooms with pagination.
func (s *SQLiteStore) ListPublicRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE is_private = 0`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, is_private, created_by, created_at, last_active_at, message_count
		FROM rooms
		WHERE is_private = 0
		ORDER BY last_active_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanSQLiteRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, *room)
	}

	return rooms, total, rows.Err()
}

// IncrementMessageCount increments the message count and updates activity.
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = ?
		WHERE id = ?
	`, time.Now().UTC(), id.String())
	return err
}

// AddMessage inserts a message and wakes the room's watchers. The ordering
// key comes from the message_clock row, so stores sharing one file never
// hand out the same CreatedAt.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var createdAt int64
	err = tx.QueryRowContext(ctx, `
		UPDATE message_clock SET last = MAX(last + 1, ?) WHERE id = 1
		RETURNING last
	`, s.clock.Next()).Scan(&createdAt)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.RoomID, msg.AuthorID, msg.Body, createdAt)
	if err != nil {
		return err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		err := tx.QueryRowContext(ctx, `
			SELECT created_at FROM messages WHERE id = ?
		`, msg.ID).Scan(&msg.CreatedAt)
		if err != nil {
			return err
		}
		return ErrMessageExists
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	msg.CreatedAt = createdAt
	s.broker.publish(msg.RoomID)
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *SQLiteStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, author_id, body, created_at
		FROM messages
		WHERE room_id = ? AND (? = 0 OR created_at < ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, roomID, before, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Changes signals after every message this process adds to roomID.
func (s *SQLiteStore) Changes(ctx context.Context, roomID string) (<-chan struct{}, error) {
	return s.broker.subscribe(ctx, roomID), nil
}
