// Package redisstore keeps ephemeral chat messages in Redis. Each room is a
// sorted set scored by message expiry, which makes both history reads and
// expiry deletes a single range operation. Key TTLs are set as best-effort
// secondary cleanup; the sweep scheduler remains the authoritative path.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"huddle/internal/domain/chat"
)

const roomsKey = "chat:rooms"

// ChatStore implements chat message storage on Redis.
type ChatStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewChatStore creates a new Redis-backed chat store. ttl bounds how long a
// room key may outlive its newest message.
func NewChatStore(client *redis.Client, ttl time.Duration) *ChatStore {
	return &ChatStore{client: client, ttl: ttl}
}

func roomKey(momentID string) string {
	return "chat:" + momentID
}

// SaveMessage appends a message to its room, scored by expiry.
func (s *ChatStore) SaveMessage(ctx context.Context, m chat.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("error marshaling chat message: %w", err)
	}

	key := roomKey(m.MomentID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(m.ExpiresAt.UnixMilli()),
		Member: data,
	})
	pipe.SAdd(ctx, roomsKey, m.MomentID)
	pipe.Expire(ctx, key, s.ttl+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error saving chat message: %w", err)
	}

	return nil
}

// History returns the most recent non-expired messages for a moment, ordered
// oldest-first, bounded by limit.
func (s *ChatStore) History(ctx context.Context, momentID string, limit int, now time.Time) ([]chat.Message, error) {
	raw, err := s.client.ZRevRangeByScore(ctx, roomKey(momentID), &redis.ZRangeBy{
		Min:   fmt.Sprintf("(%d", now.UnixMilli()),
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading chat history: %w", err)
	}

	// ZRevRangeByScore yields newest-first; reverse while decoding.
	messages := make([]chat.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m chat.Message
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			return nil, fmt.Errorf("error unmarshaling chat message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, nil
}

// DeleteExpired removes messages whose expiry has passed across all rooms,
// bounded by limit, and returns the number removed. Rooms left empty are
// dropped from the room set.
func (s *ChatStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	rooms, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("error listing chat rooms: %w", err)
	}

	cutoff := fmt.Sprintf("%d", now.UnixMilli())
	deleted := 0
	for _, momentID := range rooms {
		if limit > 0 && deleted >= limit {
			break
		}

		key := roomKey(momentID)
		removed, err := s.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
		if err != nil {
			return deleted, fmt.Errorf("error removing expired chat messages: %w", err)
		}
		deleted += int(removed)

		remaining, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return deleted, fmt.Errorf("error checking chat room size: %w", err)
		}
		if remaining == 0 {
			if err := s.client.SRem(ctx, roomsKey, momentID).Err(); err != nil {
				return deleted, fmt.Errorf("error dropping empty chat room: %w", err)
			}
		}
	}

	return deleted, nil
}

// DeleteForMoment removes all messages for a moment.
func (s *ChatStore) DeleteForMoment(ctx context.Context, momentID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roomKey(momentID))
	pipe.SRem(ctx, roomsKey, momentID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error deleting chat room: %w", err)
	}
	return nil
}
