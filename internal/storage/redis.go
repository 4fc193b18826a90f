package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"cardsignal/internal/acquisition"
)

// RedisConfig encapsulates Redis connectivity.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// RedisStore backs the cache, throttle, quota and signal stores with Redis.
// Signal history is kept per card in a sorted set scored by computed_at.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects a Redis client and verifies it with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("storage.redis.addr is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cardsignal"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) cacheKey(key acquisition.CacheKey) string {
	return fmt.Sprintf("%s:cache:%s:%s:%s", s.prefix, key.SetID, key.Number, key.Kind)
}

func (s *RedisStore) throttleKey(key acquisition.ThrottleKey) string {
	return fmt.Sprintf("%s:throttle:%s:%s:%s", s.prefix, key.SetID, key.Number, key.Kind)
}

func (s *RedisStore) quotaKey(day string) string {
	return fmt.Sprintf("%s:quota:%s", s.prefix, day)
}

func (s *RedisStore) signalLatestKey() string {
	return fmt.Sprintf("%s:signals:latest", s.prefix)
}

func (s *RedisStore) signalHistoryKey(setID, number string) string {
	return fmt.Sprintf("%s:signals:history:%s:%s", s.prefix, setID, number)
}

type redisCacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// ReadCacheEntry returns the cached payload for a card, nil when absent.
func (s *RedisStore) ReadCacheEntry(ctx context.Context, key acquisition.CacheKey) (*acquisition.CacheEntry, error) {
	data, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	var stored redisCacheEntry
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &acquisition.CacheEntry{Key: key, Payload: stored.Payload, FetchedAt: stored.FetchedAt}, nil
}

// WriteCacheEntry persists or refreshes a cached payload.
func (s *RedisStore) WriteCacheEntry(ctx context.Context, entry acquisition.CacheEntry) error {
	data, err := json.Marshal(redisCacheEntry{Payload: entry.Payload, FetchedAt: entry.FetchedAt})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.cacheKey(entry.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

type redisThrottleState struct {
	LastAttempt  time.Time `json:"lastAttempt"`
	NextEarliest time.Time `json:"nextEarliest"`
	LastStatus   string    `json:"lastStatus"`
	Attempts     int       `json:"attempts"`
}

// ReadThrottleState returns the throttle record for a card, nil when absent.
func (s *RedisStore) ReadThrottleState(ctx context.Context, key acquisition.ThrottleKey) (*acquisition.ThrottleState, error) {
	data, err := s.client.Get(ctx, s.throttleKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read throttle state: %w", err)
	}

	var stored redisThrottleState
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode throttle state: %w", err)
	}
	return &acquisition.ThrottleState{
		Key:          key,
		LastAttempt:  stored.LastAttempt,
		NextEarliest: stored.NextEarliest,
		LastStatus:   acquisition.Status(stored.LastStatus),
		Attempts:     stored.Attempts,
	}, nil
}

// WriteThrottleState persists or updates a throttle record.
func (s *RedisStore) WriteThrottleState(ctx context.Context, state acquisition.ThrottleState) error {
	data, err := json.Marshal(redisThrottleState{
		LastAttempt:  state.LastAttempt,
		NextEarliest: state.NextEarliest,
		LastStatus:   string(state.LastStatus),
		Attempts:     state.Attempts,
	})
	if err != nil {
		return fmt.Errorf("encode throttle state: %w", err)
	}
	if err := s.client.Set(ctx, s.throttleKey(state.Key), data, 0).Err(); err != nil {
		return fmt.Errorf("write throttle state: %w", err)
	}
	return nil
}

// quotaTTL keeps day counters around long enough for diagnostics without
// accumulating forever.
const quotaTTL = 48 * time.Hour

// IncrementDay adds one request to the day's quota counter and returns the
// new total.
func (s *RedisStore) IncrementDay(ctx context.Context, day string) (int, error) {
	key := s.quotaKey(day)
	used, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment quota day: %w", err)
	}
	if used == 1 {
		if err := s.client.Expire(ctx, key, quotaTTL).Err(); err != nil {
			return 0, fmt.Errorf("expire quota day: %w", err)
		}
	}
	return int(used), nil
}

// ReadDay returns the request count for a day, zero when unseen.
func (s *RedisStore) ReadDay(ctx context.Context, day string) (int, error) {
	used, err := s.client.Get(ctx, s.quotaKey(day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quota day: %w", err)
	}
	return used, nil
}

// UpsertSignal stores the snapshot in the per-card history set and refreshes
// the latest-signal hash used by listings.
func (s *RedisStore) UpsertSignal(ctx context.Context, rec SignalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}

	historyKey := s.signalHistoryKey(rec.SetID, rec.Number)
	member := redis.Z{Score: float64(rec.ComputedAt.UnixMilli()), Member: data}
	if err := s.client.ZAdd(ctx, historyKey, member).Err(); err != nil {
		return fmt.Errorf("append signal history: %w", err)
	}

	field := rec.SetID + ":" + rec.Number
	if err := s.client.HSet(ctx, s.signalLatestKey(), field, data).Err(); err != nil {
		return fmt.Errorf("store latest signal: %w", err)
	}
	return nil
}

// ListRecentSignals returns the latest snapshot per card, up to limit cards.
func (s *RedisStore) ListRecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	values, err := s.client.HVals(ctx, s.signalLatestKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list recent signals: %w", err)
	}

	records := make([]SignalRecord, 0, len(values))
	for _, value := range values {
		var rec SignalRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].ComputedAt.After(records[j].ComputedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// ListSignalHistory lists a card's snapshots within a time window.
func (s *RedisStore) ListSignalHistory(ctx context.Context, setID, number string, from, to time.Time) ([]SignalRecord, error) {
	values, err := s.client.ZRangeByScore(ctx, s.signalHistoryKey(setID, number), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("(%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list signal history: %w", err)
	}

	records := make([]SignalRecord, 0, len(values))
	for _, value := range values {
		var rec SignalRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("decode signal: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
