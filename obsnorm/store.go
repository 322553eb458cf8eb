package obsnorm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("statistics not found")

const keyPrefix = "obsnorm:"

// RedisStore shares statistics snapshots through redis, one JSON value per name
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to a single redis server
func DialRedis(addr string) *RedisStore {
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
}

func (s *RedisStore) Save(ctx context.Context, name string, snapshot Snapshot) error {
	bs, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, keyPrefix+name, bs, 0).Err()
}

func (s *RedisStore) Load(ctx context.Context, name string) (Snapshot, error) {
	bs, err := s.client.Get(ctx, keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	} else if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{}
	if err := json.Unmarshal(bs, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decoding statistics %s: %w", name, err)
	}
	return snapshot, nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, keyPrefix+name).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// LoadFile reads a JSON snapshot
func LoadFile(path string) (Snapshot, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot := Snapshot{}
	if err := json.Unmarshal(bs, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decoding statistics %s: %w", path, err)
	}
	return snapshot, nil
}

// SaveFile writes a snapshot as JSON
func SaveFile(path string, snapshot Snapshot) error {
	bs, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0644)
}
