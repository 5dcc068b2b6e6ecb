package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/recoverydesk/voiceagent/internal/recovery"
)

const snapshotKeyPrefix = "recovery:session:"

// Snapshot is what survives a process restart: the coordinator state plus
// the session bookkeeping needed to resume it.
type Snapshot struct {
	State     recovery.State `json:"state"`
	CallSID   string         `json:"call_sid,omitempty"`
	Sequence  int            `json:"sequence"`
	CreatedAt time.Time      `json:"created_at"`
}

// SnapshotStore persists session snapshots between turns.
type SnapshotStore interface {
	Save(ctx context.Context, id string, s Snapshot) error
	// Load returns ErrNotFound when no snapshot exists.
	Load(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// RedisSnapshots keeps snapshots as JSON strings with a sliding TTL.
type RedisSnapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedisSnapshots(rdb *redis.Client, ttl time.Duration) *RedisSnapshots {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSnapshots{rdb: rdb, ttl: ttl}
}

func snapshotKey(id string) string { return snapshotKeyPrefix + id }

func (r *RedisSnapshots) Save(ctx context.Context, id string, s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.rdb.Set(ctx, snapshotKey(id), data, r.ttl).Err()
}

func (r *RedisSnapshots) Load(ctx context.Context, id string) (Snapshot, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (r *RedisSnapshots) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, snapshotKey(id)).Err()
}
