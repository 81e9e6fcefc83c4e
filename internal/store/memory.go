package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/models"
)

// ErrDuplicateKey is returned when registering a public key twice.
var ErrDuplicateKey = errors.New("public key already registered")

// ErrMessageExists is returned by AddMessage when a message with the same ID
// is already stored. The message's CreatedAt is set to the stored one.
var ErrMessageExists = errors.New("message already stored")

// MemoryStore keeps agents, rooms, messages and nonces in process memory.
// It backs development servers and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[uuid.UUID]models.Agent
	byKey    map[string]uuid.UUID
	rooms    map[uuid.UUID]models.Room
	keys     map[uuid.UUID]string
	messages map[string][]models.Message // per room, oldest first
	seen     map[string]int64            // message ID -> CreatedAt
	nonces   map[string]time.Time

	clock  Clock
	broker *broker
}

// NewMemoryStore creates an empty store seeded with the global room.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		agents:   make(map[uuid.UUID]models.Agent),
		byKey:    make(map[string]uuid.UUID),
		rooms:    make(map[uuid.UUID]models.Room),
		keys:     make(map[uuid.UUID]string),
		messages: make(map[string][]models.Message),
		seen:     make(map[string]int64),
		nonces:   make(map[string]time.Time),
		broker:   newBroker(),
	}
	global := uuid.MustParse(models.GlobalRoomID)
	now := time.Now().UTC()
	s.rooms[global] = models.Room{ID: global, Name: "global", CreatedAt: now, LastActiveAt: now}
	return s
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) CreateAgent(_ context.Context, publicKey, name string) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byKey[publicKey]; ok {
		return nil, ErrDuplicateKey
	}
	agent := models.Agent{
		ID:        crypto.NewUUIDv7(),
		PublicKey: publicKey,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.agents[agent.ID] = agent
	s.byKey[publicKey] = agent.ID
	return &agent, nil
}

func (s *MemoryStore) GetAgentByID(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	return &agent, nil
}

func (s *MemoryStore) GetAgentByPublicKey(ctx context.Context, publicKey string) (*models.Agent, error) {
	s.mu.RLock()
	id, ok := s.byKey[publicKey]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetAgentByID(ctx, id)
}

func (s *MemoryStore) CreateRoom(_ context.Context, name string, isPrivate bool, keyHash string, createdBy *uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	room := models.Room{
		ID:           crypto.NewUUIDv7(),
		Name:         name,
		IsPrivate:    isPrivate,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.rooms[room.ID] = room
	if keyHash != "" {
		s.keys[room.ID] = keyHash
	}
	return &room, nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

func (s *MemoryStore) GetRoomKeyHash(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[id], nil
}

func (s *MemoryStore) ListPublicRooms(_ context.Context, limit, offset int) ([]models.Room, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var public []models.Room
	for _, room := range s.rooms {
		if !room.IsPrivate {
			public = append(public, room)
		}
	}
	sort.Slice(public, func(i, j int) bool {
		if !public[i].LastActiveAt.Equal(public[j].LastActiveAt) {
			return public[i].LastActiveAt.After(public[j].LastActiveAt)
		}
		return public[i].ID.String() < public[j].ID.String()
	})

	total := len(public)
	if offset >= total {
		return []models.Room{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return public[offset:end], total, nil
}

func (s *MemoryStore) IncrementMessageCount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil
	}
	room.MessageCount++
	room.LastActiveAt = time.Now().UTC()
	s.rooms[id] = room
	return nil
}

// AddMessage appends a message and wakes the room's watchers.
func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	s.mu.Lock()
	if createdAt, ok := s.seen[msg.ID]; ok {
		s.mu.Unlock()
		msg.CreatedAt = createdAt
		return ErrMessageExists
	}
	msg.CreatedAt = s.clock.Next()
	s.seen[msg.ID] = msg.CreatedAt
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], *msg)
	s.mu.Unlock()

	s.broker.publish(msg.RoomID)
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *MemoryStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[roomID]
	end := len(all)
	if before > 0 {
		end = sort.Search(len(all), func(i int) bool { return all[i].CreatedAt >= before })
	}

	out := make([]models.Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Changes signals after every message added to roomID.
func (s *MemoryStore) Changes(ctx context.Context, roomID string) (<-chan struct{}, error) {
	return s.broker.subscribe(ctx, roomID), nil
}

func (s *MemoryStore) IsNonceUsed(_ context.Context, agentID, nonce string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expires, ok := s.nonces[nonceKey(agentID, nonce)]
	return ok && time.Now().Before(expires)
}

func (s *MemoryStore) MarkNonceUsed(_ context.Context, agentID, nonce string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, expires := range s.nonces {
		if now.After(expires) {
			delete(s.nonces, k)
		}
	}
	s.nonces[nonceKey(agentID, nonce)] = now.Add(ttl)
}
