package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件队列的连接参数。
type RedisConfig struct {
	URL   string
	Queue string
}

// RedisPublisher 使用 Redis list 投递事件，消费者可通过 BRPOP 获取。
type RedisPublisher struct {
	client *redis.Client
	queue  string
}

// NewRedisPublisher 创建 Redis 发布器。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("Redis URL 不能为空")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("解析 Redis URL 失败: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "x402:events"
	}
	return &RedisPublisher{client: client, queue: queue}, nil
}

// Publish 将事件以 JSON 形式 LPUSH 到队列。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := p.client.LPush(ctx, p.queue, body).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
