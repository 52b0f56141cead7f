package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nomai-core/server/internal/chat"
	errx "github.com/nomai-core/server/internal/core/error"
	logx "github.com/nomai-core/server/pkg/logger"
)

// row is the persisted shape of one conversation message. Content holds the
// full serialized message as a nested JSON value so the row stays readable
// without re-joining against anything.
type row struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Role      chat.Role       `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisHistoryRepository stores conversation rows in Redis: a sorted set per
// user scored by timestamp for ordered reads, plus a hash per user for
// message-id point lookups.
type RedisHistoryRepository struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisHistoryRepository(rdb redis.Cmdable, ttl time.Duration) *RedisHistoryRepository {
	return &RedisHistoryRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisHistoryRepository) messagesKey(userID string) string {
	return fmt.Sprintf("chat:%s:messages", userID)
}

func (r *RedisHistoryRepository) byIDKey(userID string) string {
	return fmt.Sprintf("chat:%s:byid", userID)
}

// GetMessages loads all rows for the user ordered by timestamp ascending.
// A row that fails to decode is logged and skipped so one corrupt entry
// cannot poison the whole conversation.
func (r *RedisHistoryRepository) GetMessages(ctx context.Context, userID string) ([]chat.Message, error) {
	key := r.messagesKey(userID)

	rows, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load conversation history")
		return nil, errx.WrapRedis(err)
	}

	return decodeRows(userID, rows), nil
}

// decodeRows deserializes raw rows, skipping any that cannot be parsed.
func decodeRows(userID string, rows []string) []chat.Message {
	msgs := make([]chat.Message, 0, len(rows))
	for i, s := range rows {
		m, err := decodeRow([]byte(s))
		if err != nil {
			logx.Warn().Err(err).Str("user_id", userID).Int("index", i).
				Msg("skipping unparseable message row")
			continue
		}
		msgs = append(msgs, m...)
	}
	return msgs
}

// decodeRow parses one stored row into messages. The content field holds a
// single serialized message, but historic rows may carry a list; both decode.
func decodeRow(data []byte) ([]chat.Message, error) {
	var rw row
	if err := json.Unmarshal(data, &rw); err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	if len(rw.Content) == 0 {
		return nil, fmt.Errorf("row %s has no content", rw.ID)
	}

	if rw.Content[0] == '[' {
		var msgs []chat.Message
		if err := json.Unmarshal(rw.Content, &msgs); err != nil {
			return nil, fmt.Errorf("unmarshal message list: %w", err)
		}
		return msgs, nil
	}

	var m chat.Message
	if err := json.Unmarshal(rw.Content, &m); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if m.ID == "" {
		m.ID = rw.ID
	}
	return []chat.Message{m}, nil
}

// AddMessages inserts one row per message with a batch-uniform timestamp.
// The message content is round-tripped through its canonical JSON encoding
// so no in-memory object reference leaks into the stored form.
func (r *RedisHistoryRepository) AddMessages(ctx context.Context, userID string, msgs []chat.Message, localTime time.Time) error {
	if len(msgs) == 0 {
		return nil
	}

	base := localTime
	if base.IsZero() {
		base = time.Now().UTC()
	}

	members := make([]redis.Z, 0, len(msgs))
	byID := make(map[string]any, len(msgs))
	for i, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.Timestamp = base

		b, err := encodeRow(userID, m, base)
		if err != nil {
			logx.Error().Err(err).Str("user_id", userID).Msg("failed to encode message row")
			return fmt.Errorf("encode message row: %w", err)
		}
		// Redis orders equal scores lexicographically by member bytes, which
		// start with a random row id. The index tie-break keeps a turn's rows
		// in insertion order on read-back; a tool return sorting before its
		// call would get the pair dropped at reconciliation.
		score := float64(base.UnixMilli()*1000 + int64(i))
		members = append(members, redis.Z{Score: score, Member: b})
		byID[m.ID] = b
	}

	key := r.messagesKey(userID)
	if err := r.rdb.ZAdd(ctx, key, members...).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to append message rows")
		return errx.WrapRedis(err)
	}
	if err := r.rdb.HSet(ctx, r.byIDKey(userID), byID).Err(); err != nil {
		logx.Error().Err(err).Str("key", r.byIDKey(userID)).Msg("failed to index message rows by id")
		return errx.WrapRedis(err)
	}

	// extend TTL on touch
	if r.ttl > 0 {
		for _, key := range []string{r.messagesKey(userID), r.byIDKey(userID)} {
			if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
				logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
				return errx.WrapRedis(err)
			} else if !ok {
				logx.Warn().Str("key", key).Dur("ttl", r.ttl).Msg("failed to set TTL on conversation key")
			}
		}
	}
	return nil
}

// encodeRow serializes a message into its row form. The canonical-encoding
// round trip happens here: Message.MarshalJSON normalizes every part
// (including structured tool-return content) into plain JSON values.
func encodeRow(userID string, m chat.Message, ts time.Time) ([]byte, error) {
	content, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(row{
		ID:        m.ID,
		UserID:    userID,
		Role:      m.Role,
		Content:   content,
		Timestamp: ts.UTC(),
	})
}

// GetMessageByID returns the stored message or nil on miss; decode failures
// for the single row are logged and reported as a miss, never an error.
func (r *RedisHistoryRepository) GetMessageByID(ctx context.Context, userID, messageID string) (*chat.Message, error) {
	s, err := r.rdb.HGet(ctx, r.byIDKey(userID), messageID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		logx.Error().Err(err).Str("user_id", userID).Str("message_id", messageID).
			Msg("failed to load message by id")
		return nil, errx.WrapRedis(err)
	}

	msgs, err := decodeRow([]byte(s))
	if err != nil || len(msgs) == 0 {
		logx.Warn().Err(err).Str("user_id", userID).Str("message_id", messageID).
			Msg("stored message row is unparseable")
		return nil, nil
	}
	return &msgs[0], nil
}

// ClearHistory removes all conversation state for a user.
func (r *RedisHistoryRepository) ClearHistory(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, r.messagesKey(userID), r.byIDKey(userID)).Err(); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to delete conversation history")
		return errx.WrapRedis(err)
	}
	return nil
}

var _ chat.HistoryRepository = (*RedisHistoryRepository)(nil)
