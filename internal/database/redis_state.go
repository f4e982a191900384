package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"kite-trading-bot/config"
	"kite-trading-bot/internal/regime"
	"kite-trading-bot/internal/vsr"
)

// Redis keys for runtime state.
const (
	regimeSnapshotKey = "watchdog:regime:snapshot"
	vsrStateKey       = "watchdog:vsr:state"
	stopStateKey      = "watchdog:stops" // Hash: ticker -> serialized stop state

	stateTTL = 7 * 24 * time.Hour
)

// RedisState persists regime snapshots, VSR state and per-ticker stop state
// in Redis. When Redis is unavailable it degrades to an in-memory map so the
// watchdog keeps running, losing only restart durability.
type RedisState struct {
	client    *redis.Client
	logger    zerolog.Logger
	available atomic.Bool

	mu    sync.RWMutex
	cache map[string][]byte
}

var _ regime.Store = (*RedisState)(nil)
var _ vsr.Store = (*RedisState)(nil)

// NewRedisState connects to Redis. A nil-safe state is returned even when
// the ping fails; callers get in-memory behavior.
func NewRedisState(cfg config.RedisConfig, logger zerolog.Logger) *RedisState {
	s := &RedisState{
		logger: logger.With().Str("component", "RedisState").Logger(),
		cache:  make(map[string][]byte),
	}

	if !cfg.Enabled {
		s.logger.Info().Msg("Redis disabled, using in-memory state only")
		return s
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable, using in-memory state")
		s.available.Store(false)
	} else {
		s.logger.Info().Str("address", cfg.Address).Msg("Redis connected")
		s.available.Store(true)
	}

	return s
}

// Close releases the Redis connection.
func (s *RedisState) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Available reports whether Redis is currently reachable.
func (s *RedisState) Available() bool {
	return s.available.Load()
}

func (s *RedisState) set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.Lock()
	s.cache[key] = data
	s.mu.Unlock()

	if s.client == nil || !s.available.Load() {
		return nil
	}
	if err := s.client.Set(ctx, key, data, stateTTL).Err(); err != nil {
		s.available.Store(false)
		s.logger.Warn().Err(err).Str("key", key).Msg("Redis write failed, falling back to memory")
	}
	return nil
}

func (s *RedisState) get(ctx context.Context, key string, out interface{}) (bool, error) {
	if s.client != nil && s.available.Load() {
		data, err := s.client.Get(ctx, key).Bytes()
		if err == nil {
			return true, json.Unmarshal(data, out)
		}
		if err != redis.Nil {
			s.available.Store(false)
			s.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed, falling back to memory")
		}
	}

	s.mu.RLock()
	data, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

// SaveRegimeSnapshot persists the latest regime classification.
func (s *RedisState) SaveRegimeSnapshot(ctx context.Context, snap *regime.Snapshot) error {
	return s.set(ctx, regimeSnapshotKey, snap)
}

// LoadRegimeSnapshot returns the persisted snapshot, or nil when absent.
func (s *RedisState) LoadRegimeSnapshot(ctx context.Context) (*regime.Snapshot, error) {
	snap := &regime.Snapshot{}
	ok, err := s.get(ctx, regimeSnapshotKey, snap)
	if err != nil || !ok {
		return nil, err
	}
	return snap, nil
}

// SaveVSRState persists the full VSR spike map.
func (s *RedisState) SaveVSRState(ctx context.Context, state map[string]*vsr.TickerState) error {
	return s.set(ctx, vsrStateKey, state)
}

// LoadVSRState returns the persisted VSR spike map, or nil when absent.
func (s *RedisState) LoadVSRState(ctx context.Context) (map[string]*vsr.TickerState, error) {
	state := make(map[string]*vsr.TickerState)
	ok, err := s.get(ctx, vsrStateKey, &state)
	if err != nil || !ok {
		return nil, err
	}
	return state, nil
}

// SaveStopState persists one ticker's serialized stop state.
func (s *RedisState) SaveStopState(ctx context.Context, ticker string, state interface{}) error {
	return s.set(ctx, stopStateKey+":"+ticker, state)
}

// LoadStopState loads one ticker's stop state into out. Returns false when
// no state exists.
func (s *RedisState) LoadStopState(ctx context.Context, ticker string, out interface{}) (bool, error) {
	return s.get(ctx, stopStateKey+":"+ticker, out)
}

// DeleteStopState removes a closed ticker's stop state.
func (s *RedisState) DeleteStopState(ctx context.Context, ticker string) error {
	key := stopStateKey + ":" + ticker

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	if s.client == nil || !s.available.Load() {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}
