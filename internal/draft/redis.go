package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	id "civreg/pkg/domain"
)

const redisKeyPrefix = "civreg:session:"

// RedisStorage keeps the value under civreg:session:<sid>:currentRequestId with
// a TTL refreshed on every write, and announces writes on a per-session
// pub/sub channel.
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage returns storage on client; ttl bounds how long an idle
// session keeps its value.
func NewRedisStorage(client *redis.Client, ttl time.Duration) *RedisStorage {
	return &RedisStorage{client: client, ttl: ttl}
}

func valueKey(sid id.SessionID) string {
	return redisKeyPrefix + sid.String() + ":" + StorageKey
}

func channelName(sid id.SessionID) string {
	return redisKeyPrefix + sid.String() + ":events"
}

func (r *RedisStorage) Get(ctx context.Context, sid id.SessionID) (string, bool, error) {
	v, err := r.client.Get(ctx, valueKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get draft id: %w", err)
	}
	return v, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, sid id.SessionID, value string) error {
	return r.write(ctx, sid, Change{Key: StorageKey, NewValue: &value}, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, valueKey(sid), value, r.ttl)
	})
}

func (r *RedisStorage) Delete(ctx context.Context, sid id.SessionID) error {
	return r.write(ctx, sid, Change{Key: StorageKey}, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, valueKey(sid))
	})
}

// write applies the mutation and publishes c in one MULTI/EXEC.
func (r *RedisStorage) write(ctx context.Context, sid id.SessionID, c Change, mutate func(redis.Pipeliner)) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode draft change: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		mutate(pipe)
		pipe.Publish(ctx, channelName(sid), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("write draft id: %w", err)
	}
	return nil
}

func (r *RedisStorage) Watch(ctx context.Context, sid id.SessionID) (<-chan Change, func(), error) {
	pubsub := r.client.Subscribe(ctx, channelName(sid))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe draft changes: %w", err)
	}

	out := make(chan Change, 16)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil || c.Key != StorageKey {
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			wg.Wait()
		})
	}
	return out, stop, nil
}
