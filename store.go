package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotTTL is how long a persisted state survives after its last write.
// A fresh write resets the clock; it is never additive.
const snapshotTTL = 86400 * time.Second

// Snapshot kinds double as key prefixes in the durable map. One record
// exists per (kind, token) pair; writes replace it wholesale.
const (
	kindCard       = "last_card"
	kindBackground = "last_background"
)

var (
	errSnapshotMissing = errors.New("snapshot not found")
	errSnapshotCorrupt = errors.New("snapshot record is not valid JSON")
)

// kv is the durable map the snapshot store writes through. Redis backs it in
// production; tests run against an in-memory fake.
type kv interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type redisKV struct {
	rdb *redis.Client
}

func newRedisKV(ctx context.Context, addr string, db int) (*redisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &redisKV{rdb: rdb}, nil
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *redisKV) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *redisKV) Close() error { return r.rdb.Close() }

// snapshot is the persisted last-known state for one (token, kind) pair.
// Exactly one of Card and BackgroundColor is set, according to the kind it
// was stored under.
type snapshot struct {
	Card            json.RawMessage `json:"card,omitempty"`
	BackgroundColor string          `json:"backgroundColor,omitempty"`
	Timestamp       string          `json:"timestamp"`
	Version         int             `json:"version"`
}

// snapshotStore keeps the single latest state per (token, kind) in the
// durable map. Last writer wins; it adds no locking of its own.
type snapshotStore struct {
	kv  kv
	log *slog.Logger
}

func newSnapshotStore(kv kv, log *slog.Logger) *snapshotStore {
	return &snapshotStore{kv: kv, log: log}
}

func snapshotKey(kind, token string) string {
	return kind + ":" + token
}

// WriteCard replaces the card snapshot for token and resets its TTL.
func (s *snapshotStore) WriteCard(ctx context.Context, token string, card json.RawMessage) error {
	return s.put(ctx, token, kindCard, snapshot{Card: card})
}

// WriteBackground replaces the background snapshot for token and resets its
// TTL. The color is assumed already validated.
func (s *snapshotStore) WriteBackground(ctx context.Context, token, color string) error {
	return s.put(ctx, token, kindBackground, snapshot{BackgroundColor: color})
}

func (s *snapshotStore) put(ctx context.Context, token, kind string, rec snapshot) error {
	rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	rec.Version = 1
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, snapshotKey(kind, token), string(b), snapshotTTL); err != nil {
		return err
	}
	incr("snapshot.writes", 1)
	return nil
}

// Read returns errSnapshotMissing for absent or expired records and
// errSnapshotCorrupt when the stored value does not parse; callers surface
// the two differently.
func (s *snapshotStore) Read(ctx context.Context, token, kind string) (snapshot, error) {
	v, ok, err := s.kv.Get(ctx, snapshotKey(kind, token))
	if err != nil {
		return snapshot{}, err
	}
	if !ok {
		return snapshot{}, errSnapshotMissing
	}
	var rec snapshot
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		s.log.Error("corrupt snapshot record", "kind", kind, "token", token, "err", err)
		return snapshot{}, errSnapshotCorrupt
	}
	return rec, nil
}

// Clear deletes the record outright, TTL notwithstanding. Clearing an absent
// record is not an error.
func (s *snapshotStore) Clear(ctx context.Context, token, kind string) error {
	if err := s.kv.Delete(ctx, snapshotKey(kind, token)); err != nil {
		return err
	}
	incr("snapshot.clears", 1)
	return nil
}
