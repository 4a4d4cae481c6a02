package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// Consumer 从通知流中读取消息并交给实际的投递实现。
type Consumer struct {
	stream           *Stream
	logger           *slog.Logger
	groupName        string
	consumerID       string
	blockTime        time.Duration
	batchSize        int64
	pendingIdle      time.Duration
	pendingStart     string
	deadLetterStream string
	maxRetry         int
	now              func() time.Time
}

// FailureAction 表示失败消息的处理方式。
type FailureAction string

const (
	FailureActionNone  FailureAction = "none"
	FailureActionRetry FailureAction = "retry"
	FailureActionDLQ   FailureAction = "dlq"
)

// ConsumerOption 消费者配置选项。
type ConsumerOption func(*Consumer)

// WithBlockTime 设置阻塞等待时间。
func WithBlockTime(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.blockTime = d
	}
}

// WithBatchSize 设置每次读取的消息数量。
func WithBatchSize(size int64) ConsumerOption {
	return func(c *Consumer) {
		c.batchSize = size
	}
}

// WithPendingIdle 设置 Pending 消息被重新认领前的最小空闲时间，0 表示不认领。
func WithPendingIdle(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.pendingIdle = d
	}
}

// WithDeadLetterStream 设置死信 Stream 名称。
func WithDeadLetterStream(stream string) ConsumerOption {
	return func(c *Consumer) {
		c.deadLetterStream = stream
	}
}

// WithMaxRetry 设置最大重试次数。
func WithMaxRetry(maxRetry int) ConsumerOption {
	return func(c *Consumer) {
		c.maxRetry = maxRetry
	}
}

// WithClock 替换判断验证码过期所用的时钟。
func WithClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		c.now = now
	}
}

// NewConsumer 创建一个新的通知消费者，并确保消费者组存在。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（为空时使用 DefaultStream）
//   - groupName: 消费者组名称
//   - consumerID: 消费者唯一标识（为空时自动生成）
//   - opts: 可选配置
func NewConsumer(ctx context.Context, rdb *redis.Client, logger *slog.Logger, streamName, groupName, consumerID string, opts ...ConsumerOption) (*Consumer, error) {
	if groupName == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if consumerID == "" {
		consumerID = fmt.Sprintf("mailer-%d", time.Now().UnixNano())
	}

	stream := NewStream(rdb, logger, streamName)
	c := &Consumer{
		stream:           stream,
		logger:           logger,
		groupName:        groupName,
		consumerID:       consumerID,
		blockTime:        time.Second,
		batchSize:        10,
		pendingIdle:      time.Minute,
		pendingStart:     "0-0",
		deadLetterStream: stream.Name() + ":dlq",
		maxRetry:         3,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := stream.CreateConsumerGroup(ctx, groupName); err != nil {
		return nil, err
	}

	c.logger.Info("consumer created",
		slog.String("group", groupName),
		slog.String("consumer_id", consumerID))
	return c, nil
}

// GroupName 返回消费者组名称。
func (c *Consumer) GroupName() string {
	return c.groupName
}

// Delivery 带 Stream 消息 ID 的通知。
type Delivery struct {
	ID       string
	Envelope *Envelope
}

// Read 优先认领超时未确认的消息，没有时再读取新消息。
func (c *Consumer) Read(ctx context.Context) ([]*Delivery, error) {
	if c.pendingIdle > 0 {
		pending, err := c.readPending(ctx)
		if err != nil {
			return nil, err
		}
		if len(pending) > 0 {
			return pending, nil
		}
	}
	return c.readNew(ctx)
}

func (c *Consumer) readPending(ctx context.Context) ([]*Delivery, error) {
	messages, nextStart, err := c.stream.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream.name,
		Group:    c.groupName,
		Consumer: c.consumerID,
		MinIdle:  c.pendingIdle,
		Start:    c.pendingStart,
		Count:    c.batchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	if nextStart != "" {
		c.pendingStart = nextStart
	}
	if len(messages) > 0 {
		metrics.OutboxAutoClaimTotal.Add(float64(len(messages)))
	}
	return c.parseMessages(ctx, messages), nil
}

func (c *Consumer) readNew(ctx context.Context) ([]*Delivery, error) {
	streams, err := c.stream.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.groupName,
		Consumer: c.consumerID,
		Streams:  []string{c.stream.name, ">"},
		Count:    c.batchSize,
		Block:    c.blockTime,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var messages []redis.XMessage
	for _, stream := range streams {
		messages = append(messages, stream.Messages...)
	}
	return c.parseMessages(ctx, messages), nil
}

func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) []*Delivery {
	if len(messages) == 0 {
		return nil
	}
	parsed := make([]*Delivery, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok || data == "" {
			c.logger.Warn("invalid message format", slog.String("msg_id", msg.ID))
			c.handlePoisonMessage(ctx, msg.ID, fmt.Sprintf("%v", msg.Values["data"]), "invalid message format")
			continue
		}
		env, err := parseEnvelope(data)
		if err != nil {
			c.logger.Error("parse message failed",
				slog.String("msg_id", msg.ID),
				slog.String("error", err.Error()))
			c.handlePoisonMessage(ctx, msg.ID, data, err.Error())
			continue
		}
		parsed = append(parsed, &Delivery{ID: msg.ID, Envelope: env})
	}
	return parsed
}

// Ack 确认消息已处理。
func (c *Consumer) Ack(ctx context.Context, msgID string) error {
	acked, err := c.stream.rdb.XAck(ctx, c.stream.name, c.groupName, msgID).Result()
	if err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	if acked == 0 {
		c.logger.Warn("message not acked (may already be acked)", slog.String("msg_id", msgID))
	}
	return nil
}

// HandleFailure 根据重试次数重新入流或放入死信流。
func (c *Consumer) HandleFailure(ctx context.Context, d *Delivery, cause error) (FailureAction, error) {
	if d == nil || d.Envelope == nil {
		return FailureActionNone, fmt.Errorf("delivery is nil")
	}

	d.Envelope.Retry++
	if d.Envelope.Retry > c.maxRetry {
		if err := c.publishDeadLetter(ctx, d.ID, d.Envelope, cause); err != nil {
			return FailureActionDLQ, err
		}
		metrics.OutboxMessagesTotal.WithLabelValues("dead_letter").Inc()
		return FailureActionDLQ, c.Ack(ctx, d.ID)
	}

	if err := c.stream.Publish(ctx, d.Envelope); err != nil {
		return FailureActionRetry, err
	}
	metrics.OutboxMessagesTotal.WithLabelValues("retried").Inc()
	return FailureActionRetry, c.Ack(ctx, d.ID)
}

// Process 读取一批消息并逐条投递，返回成功投递的数量。
//
// 验证码已过期的消息直接确认丢弃。
func (c *Consumer) Process(ctx context.Context, next notify.Dispatcher) (int, error) {
	batch, err := c.Read(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, d := range batch {
		env := d.Envelope
		if env.Expired(c.now()) {
			metrics.OutboxMessagesTotal.WithLabelValues("expired").Inc()
			c.logger.Info("skip expired notification",
				slog.String("msg_id", d.ID),
				slog.String("purpose", string(env.Purpose)))
			if err := c.Ack(ctx, d.ID); err != nil {
				return sent, err
			}
			continue
		}

		if err := next.SendChallenge(ctx, env.Message()); err != nil {
			action, ferr := c.HandleFailure(ctx, d, err)
			c.logger.Warn("deliver notification failed",
				slog.String("msg_id", d.ID),
				slog.String("purpose", string(env.Purpose)),
				slog.String("action", string(action)),
				slog.String("error", err.Error()))
			if ferr != nil {
				return sent, ferr
			}
			continue
		}

		metrics.OutboxMessagesTotal.WithLabelValues("sent").Inc()
		if err := c.Ack(ctx, d.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run 循环处理消息直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context, next notify.Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := c.Process(ctx, next); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("process notifications failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *Consumer) handlePoisonMessage(ctx context.Context, msgID, payload, reason string) {
	if err := c.publishDeadLetter(ctx, msgID, payload, errors.New(reason)); err != nil {
		c.logger.Error("publish dead letter failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
	metrics.OutboxMessagesTotal.WithLabelValues("dead_letter").Inc()
	if err := c.Ack(ctx, msgID); err != nil {
		c.logger.Error("ack poison message failed", slog.String("msg_id", msgID), slog.String("error", err.Error()))
	}
}

func (c *Consumer) publishDeadLetter(ctx context.Context, msgID string, payload interface{}, cause error) error {
	raw := payload
	if env, ok := payload.(*Envelope); ok {
		if data, err := json.Marshal(env); err == nil {
			raw = string(data)
		}
	}
	return c.stream.publishRaw(ctx, c.deadLetterStream, map[string]interface{}{
		"original_id": msgID,
		"payload":     raw,
		"reason":      cause.Error(),
		"failed_at":   c.now().UTC().Format(time.RFC3339Nano),
	})
}

// Pending 获取已读取但未确认的消息数量。
func (c *Consumer) Pending(ctx context.Context) (int64, error) {
	info, err := c.stream.rdb.XPending(ctx, c.stream.name, c.groupName).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending failed: %w", err)
	}
	return info.Count, nil
}
