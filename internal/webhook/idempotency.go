package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL 是已完成投递结果的保留时长。
const DefaultDedupTTL = 24 * time.Hour

// DefaultProcessingLease 是处理中标记的租期。进程在 Complete 前退出时，
// 提供方的重试最多等待一个租期即可重新处理。
const DefaultProcessingLease = 2 * time.Minute

// IdempotencyStore 记录已处理的投递，用于识别提供方的重复投递。
type IdempotencyStore interface {
	// Reserve 尝试占用 key。已有完成结果时返回该结果；
	// 其他实例正在处理时返回 (nil, false, nil)。
	Reserve(ctx context.Context, key string, ttl time.Duration) (stored *Result, reserved bool, err error)
	// Complete 保存 key 的最终结果。
	Complete(ctx context.Context, key string, result Result, ttl time.Duration) error
	// Release 释放 key，允许提供方重试。
	Release(ctx context.Context, key string) error
}

// dedupKey 优先使用提供方的投递 ID，否则使用 platform|payload 的摘要。
func dedupKey(platform Platform, ev Event, payload []byte) string {
	if ev.DeliveryID != "" {
		return fmt.Sprintf("%s:id:%s", platform, ev.DeliveryID)
	}
	sum := sha256.New()
	sum.Write([]byte(platform))
	sum.Write([]byte("|"))
	sum.Write(payload)
	return fmt.Sprintf("%s:sha256:%s", platform, hex.EncodeToString(sum.Sum(nil)))
}

type memoryRecord struct {
	done      bool
	result    Result
	expiresAt time.Time
}

// MemoryIdempotencyStore 是进程内实现，适用于单实例部署与测试。
type MemoryIdempotencyStore struct {
	mu        sync.Mutex
	records   map[string]memoryRecord
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryIdempotencyStore 创建进程内去重存储。
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{records: make(map[string]memoryRecord), now: time.Now}
}

// Reserve 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (*Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweepLocked(now)
	if rec, ok := m.records[key]; ok && now.Before(rec.expiresAt) {
		if rec.done {
			res := rec.result
			return &res, false, nil
		}
		return nil, false, nil
	}
	m.records[key] = memoryRecord{expiresAt: now.Add(ttl)}
	return nil, true, nil
}

// Complete 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) Complete(_ context.Context, key string, result Result, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryRecord{done: true, result: result, expiresAt: m.now().Add(ttl)}
	return nil
}

// Release 实现 IdempotencyStore。
func (m *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *MemoryIdempotencyStore) sweepLocked(now time.Time) {
	if now.Sub(m.lastSweep) < time.Minute {
		return
	}
	m.lastSweep = now
	for k, rec := range m.records {
		if !now.Before(rec.expiresAt) {
			delete(m.records, k)
		}
	}
}

// RedisIdempotencyConfig 描述 Redis 去重存储的连接参数。
type RedisIdempotencyConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// pendingMarker 表示 key 已被占用但尚未完成。
const pendingMarker = "pending"

// RedisIdempotencyStore 基于 SETNX 实现跨实例去重。
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisIdempotencyStore 连接 Redis 并创建去重存储。
func NewRedisIdempotencyStore(ctx context.Context, cfg RedisIdempotencyConfig) (*RedisIdempotencyStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisIdempotencyStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisIdempotencyStoreWithClient 使用已有客户端创建去重存储。
func NewRedisIdempotencyStoreWithClient(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "deafhub:webhook:"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

// Reserve 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (*Result, bool, error) {
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, pendingMarker, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("Redis SETNX 失败: %w", err)
	}
	if ok {
		return nil, true, nil
	}
	raw, err := r.client.Get(ctx, full).Result()
	if errors.Is(err, redis.Nil) {
		// 占用方刚好释放，再尝试一次。
		ok, err = r.client.SetNX(ctx, full, pendingMarker, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("Redis SETNX 失败: %w", err)
		}
		return nil, ok, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Redis GET 失败: %w", err)
	}
	if raw == pendingMarker {
		return nil, false, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, false, fmt.Errorf("解析去重结果失败: %w", err)
	}
	return &res, false, nil
}

// Complete 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) Complete(ctx context.Context, key string, result Result, ttl time.Duration) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化去重结果失败: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+key, body, ttl).Err(); err != nil {
		return fmt.Errorf("Redis SET 失败: %w", err)
	}
	return nil
}

// Release 实现 IdempotencyStore。
func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("Redis DEL 失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 客户端。
func (r *RedisIdempotencyStore) Close() error {
	return r.client.Close()
}
