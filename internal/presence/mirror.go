package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MirrorPrefix is the Redis key prefix for presence entries.
	MirrorPrefix = "presence:"

	// MirrorTTL bounds how stale a presence entry can be: entries are
	// refreshed while the user is active and expire on their own after an
	// abrupt disconnect, which does not delete them. Only the explicit end
	// flow deletes.
	MirrorTTL = 2 * time.Minute
)

// Entry is the Redis-side view of one online user.
type Entry struct {
	UserID     string `redis:"user_id"`
	Server     string `redis:"server"`      // which gateway instance holds the connection
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Mirror maintains best-effort presence entries in Redis.
type Mirror struct {
	client     *redis.Client
	serverName string
}

// NewMirror creates a Mirror writing entries attributed to serverName.
func NewMirror(client *redis.Client, serverName string) *Mirror {
	return &Mirror{client: client, serverName: serverName}
}

// SetOnline writes (or refreshes) the presence entry for userID.
func (m *Mirror) SetOnline(ctx context.Context, userID string) error {
	key := MirrorPrefix + userID
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":     userID,
		"server":      m.serverName,
		"last_active": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, MirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set online: %w", err)
	}
	return nil
}

// Touch refreshes last_active and the TTL for an already-online user.
func (m *Mirror) Touch(ctx context.Context, userID string) error {
	key := MirrorPrefix + userID
	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, MirrorTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: touch: %w", err)
	}
	return nil
}

// Get returns the presence entry for userID, or nil if the user has no live
// entry (offline, or the entry expired).
func (m *Mirror) Get(ctx context.Context, userID string) (*Entry, error) {
	key := MirrorPrefix + userID
	var e Entry
	if err := m.client.HGetAll(ctx, key).Scan(&e); err != nil {
		return nil, fmt.Errorf("presence: get: %w", err)
	}
	if e.UserID == "" {
		return nil, nil
	}
	return &e, nil
}

// Delete removes the presence entry. Called on the explicit end-of-session
// flow; abrupt disconnects rely on TTL expiry instead.
func (m *Mirror) Delete(ctx context.Context, userID string) error {
	if err := m.client.Del(ctx, MirrorPrefix+userID).Err(); err != nil {
		return fmt.Errorf("presence: delete: %w", err)
	}
	return nil
}
