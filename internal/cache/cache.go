package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/account-service/internal/domain"
)

const keyPrefix = "account:profile:"

// FenceTTL is how long an invalidation blocks Set for the same account. A
// read that loaded the profile before a concurrent update committed cannot
// write it back over the invalidation while the fence is up.
const FenceTTL = 10 * time.Second

// setUnlessFenced stores KEYS[1] only while the fence KEYS[2] is absent.
var setUnlessFenced = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// ProfileCache is a read-through cache of public account projections.
// Implementations never return errors: any failure is treated as a miss.
type ProfileCache interface {
	Get(ctx context.Context, id int64) (*domain.Profile, bool)
	Set(ctx context.Context, profile domain.Profile)
	Invalidate(ctx context.Context, id int64)
}

// Key returns the Redis key for an account profile.
func Key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func fenceKey(id int64) string {
	return Key(id) + ":fence"
}

// BreakerConfig holds configuration for the circuit breaker guarding Redis.
type BreakerConfig struct {
	Name string

	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32

	// Interval clears the closed-state counts. 0 never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before moving to half-open.
	Timeout time.Duration

	// FailureRatio trips the breaker once MinRequests have been seen.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns defaults for the cache breaker.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "profile-cache",
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Metrics counts cache outcomes and exposes the breaker state.
type Metrics struct {
	Requests     *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
}

// NewMetrics creates cache collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_profile_cache_requests_total",
				Help: "Profile cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}
	reg.MustRegister(m.Requests, m.BreakerState)
	return m
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// RedisProfileCache stores profiles in Redis behind a circuit breaker.
type RedisProfileCache struct {
	client  redis.Cmdable
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
	metrics *Metrics
	logger  *slog.Logger
}

var _ ProfileCache = (*RedisProfileCache)(nil)

// NewRedisProfileCache creates a Redis-backed profile cache. metrics may be nil.
func NewRedisProfileCache(client redis.Cmdable, ttl time.Duration, cbCfg BreakerConfig, metrics *Metrics, logger *slog.Logger) *RedisProfileCache {
	settings := gobreaker.Settings{
		Name:        cbCfg.Name,
		MaxRequests: cbCfg.MaxRequests,
		Interval:    cbCfg.Interval,
		Timeout:     cbCfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cbCfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cbCfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if metrics != nil {
				metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
			}
		},
	}
	if metrics != nil {
		metrics.BreakerState.WithLabelValues(cbCfg.Name).Set(0)
	}

	return &RedisProfileCache{
		client:  client,
		ttl:     ttl,
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
		metrics: metrics,
		logger:  logger,
	}
}

// Get returns the cached profile for id, if any.
func (c *RedisProfileCache) Get(ctx context.Context, id int64) (*domain.Profile, bool) {
	data, err := c.breaker.Execute(func() ([]byte, error) {
		b, err := c.client.Get(ctx, Key(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.observe("error")
		c.logger.DebugContext(ctx, "profile cache get failed",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if data == nil {
		c.observe("miss")
		return nil, false
	}

	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		c.observe("error")
		c.logger.WarnContext(ctx, "discarding undecodable cached profile",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
		c.Invalidate(ctx, id)
		return nil, false
	}

	c.observe("hit")
	return &p, true
}

// Set stores the profile with the configured TTL unless the account was
// invalidated within the last FenceTTL.
func (c *RedisProfileCache) Set(ctx context.Context, p domain.Profile) {
	data, err := json.Marshal(p)
	if err != nil {
		c.logger.WarnContext(ctx, "marshal profile for cache", slog.String("error", err.Error()))
		return
	}

	_, err = c.breaker.Execute(func() ([]byte, error) {
		keys := []string{Key(p.ID), fenceKey(p.ID)}
		return nil, setUnlessFenced.Run(ctx, c.client, keys, data, c.ttl.Milliseconds()).Err()
	})
	if err != nil {
		c.logger.DebugContext(ctx, "profile cache set failed",
			slog.Int64("account_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate drops the cached profile for id and raises its fence.
func (c *RedisProfileCache) Invalidate(ctx context.Context, id int64) {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, Key(id))
			pipe.Set(ctx, fenceKey(id), 1, FenceTTL)
			return nil
		})
		return nil, err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "profile cache invalidate failed",
			slog.Int64("account_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// State returns the current breaker state.
func (c *RedisProfileCache) State() gobreaker.State {
	return c.breaker.State()
}

func (c *RedisProfileCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(result).Inc()
	}
}

// NopProfileCache is used when caching is disabled.
type NopProfileCache struct{}

var _ ProfileCache = NopProfileCache{}

func (NopProfileCache) Get(context.Context, int64) (*domain.Profile, bool) { return nil, false }
func (NopProfileCache) Set(context.Context, domain.Profile)                {}
func (NopProfileCache) Invalidate(context.Context, int64)                  {}
