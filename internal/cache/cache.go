// Package cache 提供技能响应缓存。
// 优先使用 Redis；未配置 Redis 时退化为进程内缓存。
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache 技能响应缓存接口
type Cache interface {
	// Get 读取缓存值，第二个返回值表示是否命中
	Get(ctx context.Context, key string) (string, bool)

	// Set 写入缓存值并设置 TTL
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

// =============================================================================
// Redis 缓存
// =============================================================================

// RedisCache 基于 go-redis 的缓存实现
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis 创建 Redis 缓存
func NewRedis(addr, password string, db int, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{
		client: client,
		logger: logger.With(zap.String("component", "redis_cache")),
	}
}

// Get 读取缓存值
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return val, true
}

// Set 写入缓存值
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

// Close 关闭底层连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// =============================================================================
// 内存缓存
// =============================================================================

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache 进程内缓存，Redis 未配置时的回退实现
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemory 创建内存缓存
func NewMemory() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get 读取缓存值，过期条目视为未命中并惰性删除
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

// Set 写入缓存值
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}
