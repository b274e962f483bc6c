package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/altruist-engine/altruist/internal/v1/metrics"
)

// Service handles all interaction with the shared Redis infrastructure.
// A nil *Service is valid and means single-process mode: mutating operations
// become no-ops and reads return empty results, so callers never branch on it.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a robust Redis connection with automatic retries.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateHalfOpen:
				stateVal = 1
			case gobreaker.StateOpen:
				stateVal = 2
			}
			metrics.BusBreakerState.Set(stateVal)
		},
	}

	slog.Info("Connected to Redis", "addr", addr)
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Set stores a value under key in the shared tier.
func (s *Service) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, key, value, 0).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping Set", "key", key)
			return nil // Graceful degradation: local state stays authoritative
		}
		slog.Error("Redis Set failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

// Get reads a value from the shared tier. A missing key yields (nil, nil).
func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-process mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		val, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: Get returns nothing", "key", key)
			return nil, nil // Graceful degradation
		}
		slog.Error("Redis Get failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	return res.([]byte), nil
}

// Del removes a key from the shared tier.
func (s *Service) Del(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, key).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping Del", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("Redis Del failed", "key", key, "error", err)
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Keys lists keys matching prefix in the shared tier. SCAN would be kinder to
// large keyspaces; the shared tier holds at most one entry per connection and
// room, so KEYS stays within reason here.
func (s *Service) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-process mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Keys(ctx, prefix+"*").Result()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: Keys returns nothing", "prefix", prefix)
			return nil, nil // Graceful degradation
		}
		slog.Error("Redis Keys failed", "prefix", prefix, "error", err)
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return res.([]string), nil
}

// ListLeftPush appends a value to the head of a shared list.
// Unlike the fire-and-forget operations, failures surface to the caller: the
// bridge buffers undeliverable messages and retries, so dropping here would
// lose packets silently.
func (s *Service) ListLeftPush(ctx context.Context, key string, value []byte) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.LPush(ctx, key, value).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
		}
		slog.Error("Redis LPush failed", "key", key, "error", err)
		return fmt.Errorf("failed to push to list: %w", err)
	}
	return nil
}

// ListRightPop removes and returns the tail of a shared list.
// An empty list yields (nil, nil).
func (s *Service) ListRightPop(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-process mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		val, err := s.client.RPop(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: RPop returns nothing", "key", key)
			return nil, nil // Graceful degradation: drain resumes after recovery
		}
		slog.Error("Redis RPop failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to pop from list: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	return res.([]byte), nil
}

// Publish broadcasts a payload to every subscriber of a channel.
func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Publish(ctx, channel, payload).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: dropping publish", "channel", channel)
			return nil // Graceful degradation: drop notification, don't crash caller
		}
		slog.Error("Redis Publish failed", "channel", channel, "error", err)
		return err
	}

	return nil
}

// Subscribe starts a background goroutine that listens for messages published
// by other processes. handler runs for every message received.
func (s *Service) Subscribe(ctx context.Context, channel string, wg *sync.WaitGroup, handler func(payload []byte)) {
	if s == nil || s.client == nil {
		return // Single-process mode, no Redis available
	}

	// Subscriptions are long-lived and don't fit a request/response circuit
	// breaker. Connection failures close the channel and the loop exits; the
	// readiness monitor re-establishes the subscription after recovery.
	pubsub := s.client.Subscribe(ctx, channel)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		slog.Info("Subscribed to Redis channel", "channel", channel)

		ch := pubsub.Channel()

		// Read indefinitely until the context is cancelled or connection dies
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					slog.Warn("Redis subscription channel closed", "channel", channel)
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}
	return s.client.Close()
}

// SetAdd adds a member to a Redis Set. Used for distributed room membership.
func (s *Service) SetAdd(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping SetAdd", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("Redis SetAdd failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to add to set: %w", err)
	}
	return nil
}

// SetRem removes a member from a Redis Set.
func (s *Service) SetRem(ctx context.Context, key string, member string) error {
	if s == nil || s.client == nil {
		return nil // Single-process mode, no Redis available
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: skipping SetRem", "key", key)
			return nil // Graceful degradation
		}
		slog.Error("Redis SetRem failed", "key", key, "member", member, "error", err)
		return fmt.Errorf("failed to remove from set: %w", err)
	}
	return nil
}

// SetMembers retrieves all members of a Redis Set.
func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil // Single-process mode, no Redis available
	}

	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.SMembers(ctx, key).Result()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.BusBreakerRejections.Inc()
			slog.Warn("Redis Circuit Breaker Open: returning empty set members", "key", key)
			return nil, nil // Graceful degradation: callers fall back to local state
		}
		slog.Error("Redis SetMembers failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get set members: %w", err)
	}
	return res.([]string), nil
}
