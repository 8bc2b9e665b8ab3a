package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "DRaaS-Chain/internal/errors"
)

// RedisConfig 描述 Redis 支付日志的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore 将日志以 JSON 保存在 Redis 中。
//
// 键布局：
//
//	<prefix>:entry:<session>  单条日志
//	<prefix>:index            按更新时间排序的 ZSET
//	<prefix>:unpaid           未结清会话集合
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 支付日志实例。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
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
	return newRedisStore(client, cfg.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "draas:journal"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(sessionID string) string {
	return s.prefix + ":entry:" + sessionID
}

func (s *RedisStore) indexKey() string  { return s.prefix + ":index" }
func (s *RedisStore) unpaidKey() string { return s.prefix + ":unpaid" }

// Record 实现 Store 接口。
func (s *RedisStore) Record(ctx context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	now := time.Now().UTC()
	existing, err := s.Get(ctx, entry.SessionID)
	switch {
	case err == nil:
		entry.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrEntryNotFound):
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
	default:
		return err
	}
	entry.UpdatedAt = now

	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化支付日志失败")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.SessionID), payload, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: entry.SessionID})
		if entry.Unpaid() {
			pipe.SAdd(ctx, s.unpaidKey(), entry.SessionID)
		} else {
			pipe.SRem(ctx, s.unpaidKey(), entry.SessionID)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 支付日志失败")
	}
	return nil
}

// Get 返回指定会话的日志。
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEntryNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 支付日志失败")
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付日志失败")
	}
	return &entry, nil
}

// List 按更新时间倒序返回最近的日志。
func (s *RedisStore) List(ctx context.Context, limit int) ([]Entry, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(normalizeLimit(limit)-1)).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 日志索引失败")
	}
	return s.load(ctx, ids)
}

// Unpaid 返回提交成功但未结清费用的会话。
func (s *RedisStore) Unpaid(ctx context.Context) ([]Entry, error) {
	ids, err := s.client.SMembers(ctx, s.unpaidKey()).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取未支付会话失败")
	}
	entries, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByUpdated(entries)
	return entries, nil
}

func (s *RedisStore) load(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取支付日志失败")
	}
	out := make([]Entry, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付日志失败")
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
