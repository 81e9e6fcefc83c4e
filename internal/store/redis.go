package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// DefaultMessageTTL is how long an idle room keeps its messages in Redis.
const DefaultMessageTTL = 24 * time.Hour

// RedisStore handles Redis operations for messages and nonces.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  Clock
}

// NewRedisStore creates a new Redis store. A zero ttl keeps messages forever.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Client exposes the underlying connection for rate limiting.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// roomChangesChannel returns the pub/sub channel announcing new messages.
func roomChangesChannel(roomID string) string {
	return fmt.Sprintf("room:%s:changes", roomID)
}

// messageClockKey holds the last ordering key handed out by any server.
const messageClockKey = "messages:clock"

// messageIDKey returns the key recording the CreatedAt of a stored message.
func messageIDKey(id string) string {
	return fmt.Sprintf("message:%s:created", id)
}

// addMessageScript stores a message unless its ID is already recorded and
// returns {createdAt, inserted}. The ordering key is max(now, last+1) over
// the shared clock key.
//
// KEYS: clock, message ID key, room sorted set
// ARGV: now ms, member, ttl seconds (0 keeps forever), channel, payload
var addMessageScript = redis.NewScript(`
local seen = redis.call('GET', KEYS[2])
if seen then
	return {tonumber(seen), 0}
end
local ts = tonumber(ARGV[1])
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
if ts <= last then
	ts = last + 1
end
redis.call('SET', KEYS[1], ts)
redis.call('ZADD', KEYS[3], ts, ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('EXPIRE', KEYS[3], ttl)
	redis.call('SET', KEYS[2], ts, 'EX', ttl)
else
	redis.call('SET', KEYS[2], ts)
end
redis.call('PUBLISH', ARGV[4], ARGV[5])
return {ts, 1}
`)

// AddMessage stores a message in Redis and announces it to watchers. The
// member carries no CreatedAt, the score does.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	member := *msg
	member.CreatedAt = 0
	data, err := json.Marshal(member)
	if err != nil {
		return err
	}

	res, err := addMessageScript.Run(ctx, s.client,
		[]string{messageClockKey, messageIDKey(msg.ID), roomMessagesKey(msg.RoomID)},
		s.clock.Next(), string(data), int64(s.ttl/time.Second),
		roomChangesChannel(msg.RoomID), msg.ID,
	).Int64Slice()
	if err != nil {
		return err
	}
	if len(res) != 2 {
		return fmt.Errorf("add message %s: unexpected reply %v", msg.ID, res)
	}
	msg.CreatedAt = res[0]
	if res[1] == 0 {
		return ErrMessageExists
	}
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	key := roomMessagesKey(roomID)

	var maxScore string
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	} else {
		maxScore = "+inf"
	}

	results, err := s.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, z := range results {
		data, ok := z.Member.(string)
		if !ok {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		msg.CreatedAt = int64(z.Score)
		messages = append(messages, msg)
	}

	return messages, nil
}

// Changes subscribes to the room's pub/sub channel. The subscription is
// confirmed before returning, so no publish after the call is missed.
func (s *RedisStore) Changes(ctx context.Context, roomID string) (<-chan struct{}, error) {
	pubsub := s.client.Subscribe(ctx, roomChangesChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()
	return out, nil
}

// nonceKey returns the key for nonce tracking.
func nonceKey(agentID, nonce string) string {
	return fmt.Sprintf("nonce:%s:%s", agentID, nonce)
}

// IsNonceUsed checks if a nonce has been used.
func (s *RedisStore) IsNonceUsed(ctx context.Context, agentID, nonce string) bool {
	exists, _ := s.client.Exists(ctx, nonceKey(agentID, nonce)).Result()
	return exists > 0
}

// MarkNonceUsed marks a nonce as used with a TTL.
func (s *RedisStore) MarkNonceUsed(ctx context.Context, agentID, nonce string, ttl time.Duration) {
	s.client.Set(ctx, nonceKey(agentID, nonce), "1", ttl)
}
