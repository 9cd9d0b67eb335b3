// Package cache 提供 Redis 缓存操作的封装
// 处理 JWT 黑名单和跨设备的消息追加广播
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/KlutzyFella/Papyrus/internal/config"
)

// RedisCache 封装 Redis 客户端，提供业务相关的缓存操作
type RedisCache struct {
	client *redis.Client // Redis 客户端实例
}

// NewRedisCache 创建 RedisCache 实例
// 参数:
//   - cfg: Redis 连接配置
//
// 返回:
//   - *RedisCache: 缓存实例
//   - error: 连接错误
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Close 关闭 Redis 连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping 检查 Redis 连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// ==================== JWT 黑名单 ====================

func blacklistKey(tokenHash string) string {
	return fmt.Sprintf("jwt:blacklist:%s", tokenHash)
}

// BlacklistToken 将 Token 加入黑名单
// 登出时调用，使当前 Token 失效
// 参数:
//   - ctx: 上下文
//   - tokenHash: Token 的哈希值（不存储原始 Token）
//   - expireAt: Token 的原始过期时间
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error {
	// Token 已过期，无需加入黑名单
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		return nil
	}
	// TTL 与 Token 剩余有效期一致，过期后自动删除
	return c.client.Set(ctx, blacklistKey(tokenHash), "1", ttl).Err()
}

// IsTokenBlacklisted 检查 Token 是否在黑名单中
// Redis 不可用时视为未拉黑，由签名和过期时间兜底
func (c *RedisCache) IsTokenBlacklisted(ctx context.Context, tokenHash string) bool {
	return c.client.Exists(ctx, blacklistKey(tokenHash)).Val() > 0
}

// ==================== 消息广播 ====================
// 同一用户在多个设备上打开对话时，一个设备写入消息后通知其他设备刷新

// MessageAppended 消息追加事件
type MessageAppended struct {
	OwnerID   int64     `json:"owner_id"`
	MessageID int64     `json:"message_id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Origin    string    `json:"origin"` // 写入方的连接ID，接收方据此忽略自己产生的事件
	Timestamp time.Time `json:"timestamp"`
}

func messagesChannel(ownerID int64) string {
	return fmt.Sprintf("user:%d:messages", ownerID)
}

// PublishMessageAppended 发布消息追加事件
// 参数:
//   - ctx: 上下文
//   - event: 事件内容（JSON 序列化后发布）
//
// 返回:
//   - error: Redis 操作错误
func (c *RedisCache) PublishMessageAppended(ctx context.Context, event MessageAppended) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, messagesChannel(event.OwnerID), data).Err()
}

// SubscribeMessages 订阅用户的消息追加事件
// 返回的 channel 在 ctx 取消后关闭
func (c *RedisCache) SubscribeMessages(ctx context.Context, ownerID int64) <-chan MessageAppended {
	pubsub := c.client.Subscribe(ctx, messagesChannel(ownerID))
	out := make(chan MessageAppended, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := decodeMessageAppended(msg.Payload)
				if err != nil {
					continue // 跳过无法解析的消息
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

func decodeMessageAppended(payload string) (MessageAppended, error) {
	var event MessageAppended
	err := json.Unmarshal([]byte(payload), &event)
	return event, err
}
