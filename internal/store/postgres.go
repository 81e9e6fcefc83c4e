package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// roomChangesTopic is the NOTIFY channel carrying the room ID of every
// inserted message.
const roomChangesTopic = "pagechat_room_changes"

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool   *pgxpool.Pool
	clock  Clock
	broker *broker
	logger zerolog.Logger

	listenOnce sync.Once
	stop       context.CancelFunc
	done       chan struct{}
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		broker: newBroker(),
		logger: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

// Close stops the change listener and closes the connection pool.
func (s *PostgresStore) Close() error {
	// After this no listener can start.
	s.listenOnce.Do(func() {})
	if s.stop != nil {
		s.stop()
		<-s.done
	}
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateAgent creates a new agent record.
func (s *PostgresStore) CreateAgent(ctx context.Context, publicKey, name string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (public_key, name)
		VALUES ($1, $2)
		RETURNING id, public_key, name, created_at
	`, publicKey, name).Scan(
		&agent.ID,
		&agent.PublicKey,
		&agent.Name,
		&agent.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgentByID retrieves an agent by ID.
func (s *PostgresStore) GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, public_key, name, created_at
		FROM agents WHERE id = $1
	`, id).Scan(
		&agent.ID,
		&agent.PublicKey,
		&agent.Name,
		&agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// GetAgentByPublicKey retrieves an agent by public key.
func (s *PostgresStore) GetAgentByPublicKey(ctx context.Context, publicKey string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, public_key, name, created_at
		FROM agents WHERE public_key = $1
	`, publicKey).Scan(
		&agent.ID,
		&agent.PublicKey,
		&agent.Name,
		&agent.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return agent, nil
}

// CreateRoom creates a new room.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string, isPrivate bool, keyHash string, createdBy *uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	var keyHashPtr *string
	if keyHash != "" {
		keyHashPtr = &keyHash
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO rooms (name, is_private, key_hash, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, is_private, created_by, created_at, last_active_at, message_count
	`, name, isPrivate, keyHashPtr, createdBy).Scan(
		&room.ID,
		&room.Name,
		&room.IsPrivate,
		&room.CreatedBy,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, is_private, created_by, created_at, last_active_at, message_count
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.IsPrivate,
		&room.CreatedBy,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// GetRoomKeyHash retrieves the key hash for a private room.
func (s *PostgresStore) GetRoomKeyHash(ctx context.Context, id uuid.UUID) (string, error) {
	var keyHash *string
	err := s.pool.QueryRow(ctx, `
		SELECT key_hash FROM rooms WHERE id = $1
	`, id).Scan(&keyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) ListPublicRooms(ctx context.Context, limit, offset int) ([]models.Room, int, error) {
	// Get total count
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE is_private = FALSE`).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, is_private, created_by, created_at, last_active_at, message_count
		FROM rooms
		WHERE is_private = FALSE
		ORDER BY last_active_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		err := rows.Scan(
			&room.ID,
			&room.Name,
			&room.IsPrivate,
			&room.CreatedBy,
			&room.CreatedAt,
			&room.LastActiveAt,
			&room.MessageCount,
		)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, room)
	}

	return rooms, total, rows.Err()
}

// IncrementMessageCount increments the message count and updates activity.
func (s *PostgresStore) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// AddMessage inserts a message and notifies every listening server. The
// ordering key comes from the message_clock row, whose lock also serializes
// writers, so keys are unique and commit in key order across servers.
func (s *PostgresStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var createdAt int64
	err = tx.QueryRow(ctx, `
		UPDATE message_clock SET last = GREATEST(last + 1, $1::BIGINT)
		RETURNING last
	`, s.clock.Next()).Scan(&createdAt)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO messages (id, room_id, author_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.RoomID, msg.AuthorID, msg.Body, createdAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err := tx.QueryRow(ctx, `
			SELECT created_at FROM messages WHERE id = $1
		`, msg.ID).Scan(&msg.CreatedAt)
		if err != nil {
			return err
		}
		return ErrMessageExists
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, roomChangesTopic, msg.RoomID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	msg.CreatedAt = createdAt
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *PostgresStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, author_id, body, created_at
		FROM messages
		WHERE room_id = $1 AND ($2::BIGINT = 0 OR created_at < $2::BIGINT)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, roomID, before, limit)
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

// Changes signals after every message inserted into roomID by any server
// sharing the database. The first call starts the LISTEN connection.
func (s *PostgresStore) Changes(ctx context.Context, roomID string) (<-chan struct{}, error) {
	s.listenOnce.Do(func() {
		listenCtx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.done = make(chan struct{})
		go s.listen(listenCtx)
	})
	return s.broker.subscribe(ctx, roomID), nil
}

// listen holds one pooled connection on LISTEN and republishes every
// notification to the in-process broker. It reconnects until ctx is done.
func (s *PostgresStore) listen(ctx context.Context) {
	defer close(s.done)

	for ctx.Err() == nil {
		if err := s.listenConn(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("change listener failed, reconnecting")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// listenConn runs one LISTEN session. Once it is listening every watched
// room is woken, so inserts notified before it (or while a previous session
// was reconnecting) are re-read.
func (s *PostgresStore) listenConn(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+roomChangesTopic); err != nil {
		return err
	}
	s.broker.publishAll()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.broker.publish(n.Payload)
	}
}
