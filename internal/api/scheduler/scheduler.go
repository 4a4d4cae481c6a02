// Package scheduler 运行后台周期任务：把已过期的库存食品标记为 expired。
//
// 验证码的过期不在这里处理，它们在确认时惰性判定。
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/store"
)

// Scheduler 定时扫描食品库存。
type Scheduler struct {
	foods    store.FoodStore
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewScheduler 创建一个新的调度器实例。
//
// 参数:
//
//	foods: 食品存储
//	logger: 日志记录器
//	interval: 扫描间隔（不大于 0 时为 1 小时）
//
// 返回值:
//
//	*Scheduler: 调度器实例
func NewScheduler(foods store.FoodStore, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		foods:    foods,
		logger:   logger,
		interval: interval,
		timeout:  30 * time.Second,
		now:      time.Now,
	}
}

// SetClock 替换时钟（测试用）。
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Run 启动扫描循环，启动时立即执行一次，ctx 取消后返回。
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("expiry sweeper started", slog.String("interval", s.interval.String()))

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PANIC in expiry sweeper", slog.Any("panic", r))
		}
	}()
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.Sweep(sweepCtx); err != nil && ctx.Err() == nil {
		s.logger.Warn("expiry sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep 将到期日早于今天（UTC）的库存食品标记为 expired，返回更新数量。
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Truncate(24 * time.Hour)
	n, err := s.foods.ExpireFoods(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.FoodItemsExpiredTotal.Add(float64(n))
		s.logger.Info("food items expired", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}
