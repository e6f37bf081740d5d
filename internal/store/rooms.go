package store

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"highwayhub/voice/internal/errors"
)

const ErrStore errors.Code = "room store failure"

// Rooms maps users to their voice room. A user keeps the same room until it
// expires, so repeated room requests are idempotent.
type Rooms interface {
	// Assign returns the user's current room, or records candidate as the
	// user's room when there is none.
	Assign(ctx context.Context, userID, candidate string) (roomID string, created bool, err error)
	// Known reports whether roomID was handed out and has not expired.
	Known(ctx context.Context, roomID string) (bool, error)
}

// NewMemory keeps up to size rooms in process memory.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{
		byUser: expirable.NewLRU[string, string](size, nil, ttl),
		rooms:  expirable.NewLRU[string, string](size, nil, ttl),
	}
}

type Memory struct {
	mu     sync.Mutex
	byUser *expirable.LRU[string, string]
	rooms  *expirable.LRU[string, string]
}

func (m *Memory) Assign(_ context.Context, userID, candidate string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.byUser.Get(userID); ok {
		return room, false, nil
	}
	m.byUser.Add(userID, candidate)
	m.rooms.Add(candidate, userID)
	return candidate, true, nil
}

func (m *Memory) Known(_ context.Context, roomID string) (bool, error) {
	return m.rooms.Contains(roomID), nil
}

const (
	userKeyPrefix = "voice:user-room:"
	roomKeyPrefix = "voice:room:"
)

// NewRedis stores rooms in Redis so several API replicas agree on them.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func (r *Redis) Assign(ctx context.Context, userID, candidate string) (string, bool, error) {
	ok, err := r.client.SetNX(ctx, userKeyPrefix+userID, candidate, r.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(ErrStore, err, "assign room")
	}
	if !ok {
		room, err := r.client.Get(ctx, userKeyPrefix+userID).Result()
		if err == nil {
			return room, false, nil
		}
		if err != redis.Nil {
			return "", false, errors.Wrap(ErrStore, err, "read room")
		}
		// expired between SETNX and GET
		return r.Assign(ctx, userID, candidate)
	}
	if err := r.client.Set(ctx, roomKeyPrefix+candidate, userID, r.ttl).Err(); err != nil {
		return "", false, errors.Wrap(ErrStore, err, "record room")
	}
	return candidate, true, nil
}

func (r *Redis) Known(ctx context.Context, roomID string) (bool, error) {
	n, err := r.client.Exists(ctx, roomKeyPrefix+roomID).Result()
	if err != nil {
		return false, errors.Wrap(ErrStore, err, "check room")
	}
	return n > 0, nil
}
