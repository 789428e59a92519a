// Package ratelimit 提供按 key 限流：单机令牌桶与基于 Redis 的分布式 GCRA
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (*Result, error)
}

// Limit 限流规则：Period 内 Rate 次，允许 Burst 突发
type Limit struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// PerSecond 每秒 r 次的规则
func PerSecond(r float64, burst int) Limit {
	if r >= 1 {
		return Limit{Rate: int(math.Round(r)), Period: time.Second, Burst: burst}
	}
	// 低于每秒一次时放大周期
	period := time.Duration(float64(time.Second) / math.Max(r, 1e-3))
	return Limit{Rate: 1, Period: period, Burst: burst}
}

func (l Limit) every() rate.Limit {
	if l.Rate <= 0 || l.Period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.Rate) / l.Period.Seconds())
}

// Result 限流结果
type Result struct {
	Allowed    bool
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// RedisRateLimiter 基于 Redis 的分布式限流，多实例共享配额
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateLimiter 创建 Redis 限流器
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 检查请求是否允许
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit Limit) (*Result, error) {
	res, err := r.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Rate,
		Period: limit.Period,
		Burst:  limit.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	return &Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		ResetAfter: res.ResetAfter,
		RetryAfter: res.RetryAfter,
	}, nil
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalRateLimiter 进程内按 key 的令牌桶
type LocalRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewLocalRateLimiter 创建进程内限流器，ttl 内未访问的 key 会被清理
func NewLocalRateLimiter(ttl time.Duration) *LocalRateLimiter {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LocalRateLimiter{entries: make(map[string]*localEntry), ttl: ttl, now: time.Now}
}

// Allow 检查请求是否允许
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit Limit) (*Result, error) {
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		burst := limit.Burst
		if burst <= 0 {
			burst = max(limit.Rate, 1)
		}
		e = &localEntry{limiter: rate.NewLimiter(limit.every(), burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.evictLocked(now)
	l.mu.Unlock()

	reservation := e.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return &Result{Allowed: false}, nil
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay, ResetAfter: delay}, nil
	}

	remaining := int(e.limiter.TokensAt(now))
	return &Result{Allowed: true, Remaining: max(remaining, 0)}, nil
}

func (l *LocalRateLimiter) evictLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.ttl {
			delete(l.entries, k)
		}
	}
}
