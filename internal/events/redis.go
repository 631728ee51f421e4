package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 投递参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// List 保存事件历史，下游可用 BRPOP 消费。
	List string
	// Channel 非空时同时 PUBLISH，供在线订阅者使用。
	Channel string
	// MaxLen 限制 List 长度，0 表示不限制。
	MaxLen int64
}

// RedisPublisher 将事件写入 Redis list，并可选地广播到 pub/sub 频道。
type RedisPublisher struct {
	client  redis.UniversalClient
	list    string
	channel string
	maxLen  int64
}

// NewRedisPublisher 创建 Redis 投递器并检查连通性。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewRedisPublisherFromClient(client, cfg), nil
}

// NewRedisPublisherFromClient 复用已有连接。
func NewRedisPublisherFromClient(client redis.UniversalClient, cfg RedisConfig) *RedisPublisher {
	list := cfg.List
	if list == "" {
		list = "proofchain:events"
	}
	return &RedisPublisher{client: client, list: list, channel: cfg.Channel, maxLen: cfg.MaxLen}
}

// Publish 在一个 pipeline 中完成 LPUSH、LTRIM 与 PUBLISH。
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, p.list, payload)
		if p.maxLen > 0 {
			pipe.LTrim(ctx, p.list, 0, p.maxLen-1)
		}
		if p.channel != "" {
			pipe.Publish(ctx, p.channel, payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Redis 投递事件失败: %w", err)
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
