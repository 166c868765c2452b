// Package redisstore keeps live-run snapshots in Redis so any API replica can
// answer progress queries for a run owned by another.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skylarkhq/delver/internal/sessions"
)

const keyPrefix = "delver:livesession:"

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Conn dials Redis and verifies the connection.
func Conn(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", addr, err)
	}
	return client, nil
}

func (s *Store) Save(ctx context.Context, snap sessions.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+snap.RunID, data, ttl).Err()
}

func (s *Store) Get(ctx context.Context, runID string) (sessions.Snapshot, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return sessions.Snapshot{}, false, nil
	}
	if err != nil {
		return sessions.Snapshot{}, false, err
	}
	var snap sessions.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return sessions.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.client.Del(ctx, keyPrefix+runID).Err()
}
