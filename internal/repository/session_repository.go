// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StopTokenTTL 是 websocket 停止令牌的有效期。
const StopTokenTTL = 10 * time.Minute

// SessionRepository 定义了基于 Redis 的会话状态操作：令牌黑名单与 websocket 停止令牌。
type SessionRepository interface {
	BlacklistToken(ctx context.Context, token string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	// SaveStopToken 记录停止令牌对应的用户。
	SaveStopToken(ctx context.Context, token string, userID uint) error
	// ConsumeStopToken 校验令牌属于 userID，校验成功后删除令牌。
	ConsumeStopToken(ctx context.Context, token string, userID uint) (bool, error)
}

type redisSessionRepository struct {
	redisClient *redis.Client
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(redisClient *redis.Client) SessionRepository {
	return &redisSessionRepository{redisClient: redisClient}
}

func (r *redisSessionRepository) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.redisClient.Set(ctx, "blacklist:"+token, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return n > 0, nil
}

func (r *redisSessionRepository) SaveStopToken(ctx context.Context, token string, userID uint) error {
	key := fmt.Sprintf("ws:stop:%s", token)
	if err := r.redisClient.Set(ctx, key, userID, StopTokenTTL).Err(); err != nil {
		return fmt.Errorf("failed to save stop token: %w", err)
	}
	return nil
}

func (r *redisSessionRepository) ConsumeStopToken(ctx context.Context, token string, userID uint) (bool, error) {
	key := fmt.Sprintf("ws:stop:%s", token)
	owner, err := r.redisClient.Get(ctx, key).Uint64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stop token: %w", err)
	}
	if uint(owner) != userID {
		return false, nil
	}
	r.redisClient.Del(ctx, key)
	return true, nil
}
