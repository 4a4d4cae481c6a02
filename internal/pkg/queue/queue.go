package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// ErrorHandler 任务失败回调。
type ErrorHandler func(err error)

// Queue 有界内存队列 + 固定 worker 池。
//
// 入队永不阻塞调用方：队列已满或已关闭时直接拒绝，由调用方决定如何记录。
type Queue struct {
	logger       *slog.Logger
	workers      int
	jobs         chan Job
	errorHandler ErrorHandler
	depth        prometheus.Gauge

	mu        sync.RWMutex
	workerWG  sync.WaitGroup
	inflight  sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计快照。
type Stats struct {
	Enqueued  int64
	Succeeded int64
	Failed    int64
	Dropped   int64 // 队列满或已关闭
	Panics    int64
}

// NewQueue 创建一个新的任务队列。
//
// 参数:
//   - logger: 日志记录器（可为 nil）
//   - workers: worker 数量（至少为 1）
//   - capacity: 队列容量（至少为 1）
func NewQueue(logger *slog.Logger, workers int, capacity int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Queue{
		logger:  logger,
		workers: workers,
		jobs:    make(chan Job, capacity),
	}
}

// SetErrorHandler 设置错误处理回调函数。
func (q *Queue) SetErrorHandler(handler ErrorHandler) {
	q.errorHandler = handler
}

// SetDepthGauge 绑定待处理任务数指标。
func (q *Queue) SetDepthGauge(g prometheus.Gauge) {
	q.depth = g
}

// Start 启动 worker 池，重复调用无效果。ctx 取消后 worker 处理完当前任务即退出。
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.workerWG.Add(1)
			go q.worker(ctx, i)
		}
	})
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.workerWG.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			q.drain()
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.observeDepth()
			q.execute(ctx, job, id)
		}
	}
}

// drain 丢弃剩余任务，保证 Wait 不会因 worker 提前退出而永久阻塞。
func (q *Queue) drain() {
	for {
		select {
		case _, ok := <-q.jobs:
			if !ok {
				return
			}
			q.stats.dropped.Add(1)
			q.inflight.Done()
		default:
			return
		}
	}
}

func (q *Queue) execute(ctx context.Context, job Job, workerID int) {
	defer q.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			q.stats.failed.Add(1)
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := job(ctx); err != nil {
		q.stats.failed.Add(1)
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		if q.errorHandler != nil {
			q.errorHandler(err)
		}
		return
	}
	q.stats.succeeded.Add(1)
}

// Enqueue 将任务放入队列，若队列已满或已关闭则返回 false（非阻塞）。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil {
		return false
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed.Load() {
		q.stats.dropped.Add(1)
		q.logger.Warn("queue is closed, reject job")
		return false
	}

	q.inflight.Add(1)
	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		q.observeDepth()
		return true
	default:
		q.inflight.Done()
		q.stats.dropped.Add(1)
		q.logger.Warn("queue full, drop job",
			slog.Int("capacity", cap(q.jobs)),
			slog.Int("pending", len(q.jobs)))
		return false
	}
}

// Wait 阻塞直到所有已入队任务执行完毕。
func (q *Queue) Wait() {
	q.inflight.Wait()
}

// ShutdownWithTimeout 拒绝新任务并等待 worker 退出。
func (q *Queue) ShutdownWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.closed.CompareAndSwap(false, true) {
		q.mu.Unlock()
		return nil
	}
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("queue shutdown timeout after %s", timeout)
	}
}

func (q *Queue) observeDepth() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.jobs)))
	}
}

// Stats 获取队列统计信息的快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回当前队列中待处理的任务数量。
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) String() string {
	s := q.Stats()
	return fmt.Sprintf("Queue[workers=%d, capacity=%d, pending=%d, enqueued=%d, succeeded=%d, failed=%d, dropped=%d]",
		q.workers, cap(q.jobs), q.Len(), s.Enqueued, s.Succeeded, s.Failed, s.Dropped)
}
