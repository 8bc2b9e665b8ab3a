package journal

import (
	"context"
	"fmt"
	"strings"

	"DRaaS-Chain/internal/config"
)

// Open 根据配置创建支付日志存储。
func Open(ctx context.Context, cfg config.JournalConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mysql":
		store, err := NewMySQLStore(ctx, MySQLConfig{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := NewRedisStore(ctx, RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Key,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("未知的支付日志驱动: %s", cfg.Driver)
	}
}
