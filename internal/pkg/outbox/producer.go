package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jun20220703/bit216as/internal/pkg/notify"

	"github.com/redis/go-redis/v9"
)

// Producer 把验证码通知写入 Redis Stream，实现 notify.Dispatcher。
//
// 由 API 服务在 verification.delivery = "stream" 时使用。
type Producer struct {
	stream *Stream
	logger *slog.Logger
	now    func() time.Time
}

// NewProducer 创建一个新的通知生产者。
//
// 参数:
//   - rdb: Redis 客户端
//   - logger: 日志记录器
//   - streamName: Stream 名称（为空时使用 DefaultStream）
func NewProducer(rdb *redis.Client, logger *slog.Logger, streamName string) *Producer {
	return &Producer{
		stream: NewStream(rdb, logger, streamName),
		logger: logger,
		now:    time.Now,
	}
}

// SendChallenge 发布通知，由 mailer 异步发送。
func (p *Producer) SendChallenge(ctx context.Context, msg notify.Message) error {
	if err := p.stream.Publish(ctx, NewEnvelope(msg, p.now())); err != nil {
		p.logger.Error("publish notification failed",
			slog.String("email", msg.To),
			slog.String("purpose", string(msg.Purpose)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// QueueLength 获取当前流长度。
func (p *Producer) QueueLength(ctx context.Context) (int64, error) {
	return p.stream.Length(ctx)
}
