package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/pkg/logger"
	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/pkg/notify"
	"github.com/Jun20220703/bit216as/internal/pkg/outbox"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// main 是验证码投递服务的入口函数。
//
// 它负责：
// 1. 加载配置并连接 Redis
// 2. 从通知流中读取 API 写入的验证码通知
// 3. 通过 SMTP（或日志）投递，失败时重试或转入死信流
// 4. 暴露 Metrics 并在收到信号后优雅关闭
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	if cfg.Redis.Addr == "" {
		appLogger.Error("redis.addr is required for the mailer")
		os.Exit(1)
	}
	metrics.InitMetrics(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("redis ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	hostname, _ := os.Hostname()
	consumer, err := outbox.NewConsumer(ctx, rdb, appLogger, outbox.DefaultStream, outbox.DefaultGroup, hostname)
	if err != nil {
		appLogger.Error("init consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sender := notify.FromConfig(cfg, rdb, appLogger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("PANIC in mailer loop", slog.Any("panic", r))
				os.Exit(1)
			}
		}()
		appLogger.Info("starting mailer loop", slog.String("stream", outbox.DefaultStream))
		consumer.Run(ctx, sender)
	}()

	metricsAddr := ":2112"
	if v := os.Getenv("MAILER_METRICS_ADDR"); v != "" {
		metricsAddr = v
	}
	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("mailer metrics server started", slog.String("addr", metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down mailer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownWindow)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}

	select {
	case <-done:
		appLogger.Info("mailer stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("mailer loop did not stop in time")
	}
}
