// Package cache 提供 Redis 客户端封装与 JSON 读写
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int // 秒
	ReadTimeout  int // 秒
	WriteTimeout int // 秒
}

// Addr 返回 host:port
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client *redis.Client
	log    *slog.Logger
}

// New 创建 Redis 缓存实例并检查连通性
func New(ctx context.Context, cfg Config, log *slog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		ConnMaxIdleTime: time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	rc := NewWithClient(client, log)
	rc.log.Info("redis connected", "addr", cfg.Addr())
	return rc, nil
}

// NewWithClient 使用已有客户端构建缓存
func NewWithClient(client *redis.Client, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisCache{client: client, log: log}
}

// Client 底层客户端
func (rc *RedisCache) Client() *redis.Client { return rc.client }

// GetJSON 读取 JSON 值；key 不存在时返回 false
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		rc.log.ErrorContext(ctx, "redis get failed", "key", key, "error", err)
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached value %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 写入 JSON 值
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value %s: %w", key, err)
	}
	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		rc.log.ErrorContext(ctx, "redis set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		rc.log.ErrorContext(ctx, "redis delete failed", "keys", keys, "error", err)
		return err
	}
	return nil
}

// DeleteByPrefix 按前缀扫描并删除，返回删除的 key 数量
func (rc *RedisCache) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string
	iter := rc.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		rc.log.ErrorContext(ctx, "redis scan failed", "prefix", prefix, "error", err)
		return 0, err
	}
	if err := rc.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping 就绪检查
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close 关闭连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
