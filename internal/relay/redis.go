package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	xerrors "OpenMCP-Wallet/internal/errors"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 事件通道的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Channel   string
	ListKey   string
	ListLimit int64
}

// redisCommands 是 RedisSink 用到的命令子集，*redis.Client 满足该接口。
type redisCommands interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Close() error
}

// RedisSink 将记录发布到 pub/sub 通道，并保留一个定长的历史列表。
type RedisSink struct {
	client  redisCommands
	channel string
	listKey string
	limit   int64
}

// NewRedisSink 创建 Redis 事件通道并检查连通性。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
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
		return nil, xerrors.Wrap(xerrors.CodeRelayFailure, err, "连接 Redis 失败")
	}
	return newRedisSink(client, cfg), nil
}

func newRedisSink(client redisCommands, cfg RedisConfig) *RedisSink {
	channel := cfg.Channel
	if channel == "" {
		channel = "openmcp:wallet:events"
	}
	listKey := cfg.ListKey
	if listKey == "" {
		listKey = "openmcp:wallet:history"
	}
	limit := cfg.ListLimit
	if limit <= 0 {
		limit = 100
	}
	return &RedisSink{client: client, channel: channel, listKey: listKey, limit: limit}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Deliver 发布记录并把它压入历史列表头部。
func (s *RedisSink) Deliver(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "序列化事件失败")
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "Redis 发布事件失败")
	}
	if err := s.client.LPush(ctx, s.listKey, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "Redis 写入历史失败")
	}
	if err := s.client.LTrim(ctx, s.listKey, 0, s.limit-1).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "Redis 裁剪历史失败")
	}
	return nil
}

// Recent 读取最新的 limit 条记录，按时间从新到旧排列。
func (s *RedisSink) Recent(ctx context.Context, limit int64) ([]Record, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	values, err := s.client.LRange(ctx, s.listKey, 0, limit-1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRelayFailure, err, "Redis 读取历史失败")
	}
	records := make([]Record, 0, len(values))
	for _, value := range values {
		var rec Record
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("解析历史事件失败: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
