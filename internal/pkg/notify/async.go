package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/pkg/queue"
)

// AsyncDispatcher 把投递放入 worker 池执行，调用方立即返回。
type AsyncDispatcher struct {
	next    Dispatcher
	queue   *queue.Queue
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsyncDispatcher 创建并启动异步投递池。
//
// 参数:
//
//	ctx: 控制 worker 生命周期
//	next: 实际投递实现
//	workers / capacity: worker 数与队列容量
//	timeout: 单次投递超时
func NewAsyncDispatcher(ctx context.Context, next Dispatcher, logger *slog.Logger, workers, capacity int, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	q := queue.NewQueue(logger, workers, capacity)
	q.SetDepthGauge(metrics.DispatchQueueDepth)
	q.Start(ctx)
	return &AsyncDispatcher{
		next:    next,
		queue:   q,
		timeout: timeout,
		logger:  logger,
	}
}

// SendChallenge 入队后立即返回；队列满时返回 ErrQueueFull。
func (a *AsyncDispatcher) SendChallenge(ctx context.Context, msg Message) error {
	purpose := string(msg.Purpose)
	ok := a.queue.Enqueue(func(workerCtx context.Context) error {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(workerCtx), a.timeout)
		defer cancel()
		if err := a.next.SendChallenge(sendCtx, msg); err != nil {
			metrics.NotificationDispatchTotal.WithLabelValues(purpose, "failed").Inc()
			if a.logger != nil {
				a.logger.Warn("send verification failed",
					slog.String("email", msg.To),
					slog.String("purpose", purpose),
					slog.String("error", err.Error()))
			}
			return err
		}
		metrics.NotificationDispatchTotal.WithLabelValues(purpose, "sent").Inc()
		return nil
	})
	if !ok {
		metrics.NotificationDispatchTotal.WithLabelValues(purpose, "dropped").Inc()
		return ErrQueueFull
	}
	return nil
}

// Wait 等待已入队的投递全部完成。
func (a *AsyncDispatcher) Wait() {
	a.queue.Wait()
}

// Shutdown 停止接收新投递并等待 worker 退出。
func (a *AsyncDispatcher) Shutdown(timeout time.Duration) error {
	return a.queue.ShutdownWithTimeout(timeout)
}
