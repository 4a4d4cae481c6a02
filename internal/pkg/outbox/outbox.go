// Package outbox 通过 Redis Streams 在 API 与 mailer 进程之间传递验证码通知。
//
// API 侧的 Producer 只负责 XADD，实际的 SMTP 投递由 mailer 中的 Consumer
// 完成，失败的消息按重试次数重新入流或进入死信流。
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultStream 通知流的默认名称。
	DefaultStream = "foodshield:stream:notifications"
	// DefaultGroup mailer 使用的消费者组。
	DefaultGroup = "mailer"

	maxStreamLen = 100000
)

// Stream 封装 Redis Streams 的基础操作。
type Stream struct {
	rdb    *redis.Client
	logger *slog.Logger
	name   string
}

// NewStream 创建一个通知流实例，name 为空时使用 DefaultStream。
func NewStream(rdb *redis.Client, logger *slog.Logger, name string) *Stream {
	if name == "" {
		name = DefaultStream
	}
	return &Stream{rdb: rdb, logger: logger, name: name}
}

// Name 返回 Stream 名称。
func (s *Stream) Name() string {
	return s.name
}

// Publish 把一条通知追加到流尾。
func (s *Stream) Publish(ctx context.Context, env *Envelope) error {
	if env == nil {
		return fmt.Errorf("envelope is nil")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.publishRaw(ctx, s.name, map[string]interface{}{
		"data": string(data),
	})
}

func (s *Stream) publishRaw(ctx context.Context, stream string, values map[string]interface{}) error {
	msgID, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStreamLen,
		Approx: false,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}

	// 只记录消息 ID，正文包含验证码
	s.logger.Debug("outbox message published",
		slog.String("stream", stream),
		slog.String("msg_id", msgID))
	return nil
}

// CreateConsumerGroup 创建消费者组，已存在时忽略。
func (s *Stream) CreateConsumerGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.name, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	s.logger.Info("consumer group ready",
		slog.String("stream", s.name),
		slog.String("group", group))
	return nil
}

// Length 返回 Stream 中的消息数量。
func (s *Stream) Length(ctx context.Context) (int64, error) {
	n, err := s.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	return n, nil
}

func parseEnvelope(data string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}
