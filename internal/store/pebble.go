package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// PebbleStore keeps room messages in an embedded Pebble database.
//
// Key format: msg/<roomID>/<createdAt as 16 hex digits>/<messageID>
// Fixed-width hex keeps byte order equal to ordering-key order, so a page is
// a reverse scan bounded above by the cursor. id/<messageID> holds the
// CreatedAt of every stored message.
type PebbleStore struct {
	mu     sync.Mutex // serializes AddMessage
	db     *pebble.DB
	clock  Clock
	broker *broker
}

// NewPebbleStore opens (or creates) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	return openPebble(path, &pebble.Options{})
}

// NewMemPebbleStore opens a Pebble database backed by memory.
func NewMemPebbleStore() (*PebbleStore, error) {
	return openPebble("pagechat", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db, broker: newBroker()}, nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Ping always succeeds for an open embedded database.
func (s *PebbleStore) Ping(context.Context) error {
	return nil
}

func roomPrefix(roomID string) []byte {
	return []byte("msg/" + roomID + "/")
}

func messageKey(roomID string, createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("msg/%s/%016x/%s", roomID, createdAt, id))
}

func idIndexKey(id string) []byte {
	return []byte("id/" + id)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix. Prefixes here always end in '/', so bumping it is enough.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	return end
}

// AddMessage stores a message and wakes the room's watchers.
func (s *PebbleStore) AddMessage(_ context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idKey := idIndexKey(msg.ID)
	value, closer, err := s.db.Get(idKey)
	switch {
	case err == nil:
		createdAt, perr := strconv.ParseInt(string(value), 10, 64)
		closer.Close()
		if perr != nil {
			return fmt.Errorf("message %s: %w", msg.ID, perr)
		}
		msg.CreatedAt = createdAt
		return ErrMessageExists
	case !errors.Is(err, pebble.ErrNotFound):
		return err
	}

	msg.CreatedAt = s.clock.Next()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(messageKey(msg.RoomID, msg.CreatedAt, msg.ID), data, nil); err != nil {
		return err
	}
	if err := batch.Set(idKey, []byte(strconv.FormatInt(msg.CreatedAt, 10)), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return err
	}

	s.broker.publish(msg.RoomID)
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *PebbleStore) GetRoomMessages(_ context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	prefix := roomPrefix(roomID)
	upper := prefixUpperBound(prefix)
	if before > 0 {
		// Every key at or after before sorts above this bound.
		upper = []byte(fmt.Sprintf("msg/%s/%016x", roomID, before))
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	messages := make([]models.Message, 0, limit)
	for valid := iter.Last(); valid && len(messages) < limit; valid = iter.Prev() {
		var msg models.Message
		if err := json.Unmarshal(iter.Value(), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, iter.Error()
}

// Changes signals after every message this process adds to roomID.
func (s *PebbleStore) Changes(ctx context.Context, roomID string) (<-chan struct{}, error) {
	return s.broker.subscribe(ctx, roomID), nil
}
