package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/docuseek/docuseek/internal/model"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultQueryCacheConfig 返回默认的查询缓存配置。
func DefaultQueryCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		Enabled:   false,
		TTL:       1 * time.Hour,
		KeyPrefix: "docuseek:query:",
	}
}

// QueryCache 基于 Redis 缓存完整的问答结果。
// 缓存故障只记录日志，查询流程正常继续。
type QueryCache struct {
	redis  *goredis.Client
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存实例。
func NewQueryCache(redis *goredis.Client, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = DefaultQueryCacheConfig()
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

// cacheKey 基于问题与检索参数生成缓存键。
// 不同的 topK 或阈值会产生不同的答案，必须分开缓存。
func (c *QueryCache) cacheKey(question string, topK int, threshold float64) string {
	payload, _ := json.Marshal(struct {
		Question  string  `json:"q"`
		TopK      int     `json:"k"`
		Threshold float64 `json:"t"`
	}{question, topK, threshold})
	hash := sha256.Sum256(payload)
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// Get 从缓存获取查询结果，未命中返回 nil。
func (c *QueryCache) Get(ctx context.Context, question string, topK int, threshold float64) *model.QueryResult {
	if !c.config.Enabled || c.redis == nil {
		return nil
	}

	key := c.cacheKey(question, topK, threshold)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("failed to get from cache", "error", err.Error(), "key", key)
		}
		return nil
	}

	var result model.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("failed to unmarshal cached result, deleting", "error", err.Error(), "key", key)
		_ = c.redis.Del(ctx, key).Err()
		return nil
	}

	logger.Infow("query cache hit", "key", key, "answer_length", len(result.Answer))
	return &result
}

// Set 将查询结果写入缓存。
func (c *QueryCache) Set(ctx context.Context, question string, topK int, threshold float64, result *model.QueryResult) {
	if !c.config.Enabled || c.redis == nil {
		return
	}

	key := c.cacheKey(question, topK, threshold)
	data, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("failed to marshal result for caching", "error", err.Error())
		return
	}

	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set cache", "error", err.Error(), "key", key)
		return
	}

	logger.Infow("cached query result", "key", key, "ttl", c.config.TTL)
}

// Clear 清除全部查询缓存。
func (c *QueryCache) Clear(ctx context.Context) error {
	if !c.config.Enabled || c.redis == nil {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return err
	}

	logger.Infow("cleared query cache", "deleted_count", deleted)
	return nil
}

// GetStats 获取缓存统计信息。
func (c *QueryCache) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if !c.config.Enabled || c.redis == nil {
		return map[string]interface{}{
			"enabled": false,
		}, nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	keyCount := 0
	for iter.Next(ctx) {
		keyCount++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"enabled":    true,
		"key_count":  keyCount,
		"ttl":        c.config.TTL.String(),
		"key_prefix": c.config.KeyPrefix,
	}, nil
}
