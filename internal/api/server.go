package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/api/auth"
	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/api/scheduler"
	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/pkg/cooldown"
	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/pkg/notify"
	"github.com/Jun20220703/bit216as/internal/pkg/outbox"
	"github.com/Jun20220703/bit216as/internal/pkg/ratelimit"
	"github.com/Jun20220703/bit216as/internal/session"
	"github.com/Jun20220703/bit216as/internal/store"
	"github.com/Jun20220703/bit216as/internal/store/memstore"
	"github.com/Jun20220703/bit216as/internal/store/mongostore"
	"github.com/Jun20220703/bit216as/internal/store/sqlstore"
	"github.com/Jun20220703/bit216as/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有存储、可选的 Redis 客户端、验证码管理器、异步投递池以及 Gin 路由引擎。
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	rdb        *redis.Client
	router     *gin.Engine
	auth       *auth.Handler
	sessions   *session.Issuer
	verifier   *verification.Manager
	dispatcher *notify.AsyncDispatcher
	limiter    *ratelimit.RateLimiter
	sched      *scheduler.Scheduler
	now        func() time.Time
	stopQueue  context.CancelFunc
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 按 storage.driver 连接 MongoDB / MySQL（或使用内存存储）
// 2. 连接 Redis（未配置时限流与冷却退化为进程内实现，stream 投递需要 Redis）
// 3. 组装验证码管理器、投递池与会话签发器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = st.Close(context.Background())
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	return New(cfg, logger, st, rdb), nil
}

// OpenStore 根据配置打开存储。
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "mongo", "mongodb":
		return mongostore.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	case "mysql":
		return sqlstore.OpenMySQL(cfg.MySQL.DSN)
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// New 使用已建立的存储与 Redis 连接组装服务器，rdb 可为 nil。
func New(cfg *config.Config, logger *slog.Logger, st store.Store, rdb *redis.Client) *Server {
	vc := cfg.Verification

	// 初始化 Prometheus 指标
	metrics.InitMetrics(vc.DispatchWorkers)

	var next notify.Dispatcher
	if vc.StreamDelivery() && rdb != nil {
		next = outbox.NewProducer(rdb, logger, outbox.DefaultStream)
	} else {
		next = notify.FromConfig(cfg, rdb, logger)
	}

	queueCtx, stopQueue := context.WithCancel(context.Background())
	dispatcher := notify.NewAsyncDispatcher(queueCtx, next, logger, vc.DispatchWorkers, vc.DispatchQueue, vc.DispatchTimeout)

	verifier := verification.NewManager(st, dispatcher, verification.Config{
		PasswordResetTTL:  vc.PasswordResetTTL,
		TwoFactorSetupTTL: vc.TwoFactorSetupTTL,
		TwoFactorLoginTTL: vc.TwoFactorLoginTTL,
		MaxAttempts:       vc.MaxAttempts,
	}, logger)
	sessions := session.NewIssuer(cfg.Security.JWTSecret, cfg.Security.SessionTTL)

	authHandler := auth.NewHandler(st, verifier, sessions, cooldown.New(rdb, vc.ResendCooldown), auth.Options{
		ExposeCodes:     cfg.ExposeCodes(),
		ConcealAccounts: cfg.Security.ConcealAccounts,
		SecureCookie:    cfg.IsProd(),
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		rdb:        rdb,
		router:     r,
		auth:       authHandler,
		sessions:   sessions,
		verifier:   verifier,
		dispatcher: dispatcher,
		limiter:    ratelimit.NewRedisRateLimiter(rdb, logger, "foodshield:ratelimit:api", cfg.RateLimit.Rate, cfg.RateLimit.Burst),
		sched:      scheduler.NewScheduler(st, logger, cfg.App.SweepInterval),
		now:        time.Now,
		stopQueue:  stopQueue,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器，配置了跨域来源时包一层 CORS。
func (s *Server) Router() http.Handler {
	if len(s.cfg.Security.CORSOrigins) == 0 {
		return s.router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Security.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.HeaderRequestID}),
		handlers.ExposedHeaders([]string{middleware.HeaderRequestID}),
		handlers.AllowCredentials(),
	)(s.router)
}

// Store 返回底层存储。
func (s *Server) Store() store.Store {
	return s.store
}

// StartScheduler 在后台启动过期食品扫描。
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 等待未完成的验证码投递，然后关闭存储与缓存连接。
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	timeout := s.cfg.App.ShutdownWindow
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := s.dispatcher.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	s.stopQueue()

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	users := api.Group("/users")
	users.Use(middleware.RateLimit(s.limiter, s.logger))
	users.POST("/register", s.auth.Register)
	users.POST("/login", s.auth.Login)
	users.POST("/logout", s.auth.Logout)
	users.POST("/verify-2fa-login", s.auth.VerifyTwoFactorLogin)
	users.POST("/forgot-password", s.auth.ForgotPassword)
	users.POST("/verify-code", s.auth.VerifyResetCode)
	users.POST("/reset-password", s.auth.ResetPassword)
	users.POST("/enable-2fa", s.auth.EnableTwoFactor)
	users.POST("/verify-2fa-code", s.auth.VerifyTwoFactorCode)
	users.GET("/temp-login/:token", s.auth.TempLogin)
	users.POST("/cancel-2fa", s.auth.CancelTwoFactor)
	users.GET("/2fa-status", s.auth.TwoFactorStatus)
	users.GET("/2fa-events", s.auth.TwoFactorEvents)
	users.POST("/resend-code", s.auth.ResendCode)

	authed := api.Group("/")
	authed.Use(middleware.AuthMiddleware(s.sessions))
	authed.GET("/users/profile", s.auth.Profile)
	authed.PUT("/users/profile", s.auth.UpdateProfile)
	authed.POST("/users/disable-2fa", s.auth.DisableTwoFactor)

	authed.GET("/foods", s.handleListFoods)
	authed.POST("/foods", s.handleCreateFood)
	authed.GET("/foods/:id", s.handleGetFood)
	authed.PUT("/foods/:id", s.handleUpdateFood)
	authed.DELETE("/foods/:id", s.handleDeleteFood)
	authed.PATCH("/foods/:id/status", s.handleUpdateFoodStatus)
	authed.POST("/foods/:id/use", s.handleUseFood)

	authed.GET("/donations", s.handleListDonations)
	authed.POST("/donations", s.handleCreateDonation)
	authed.DELETE("/donations/:id", s.handleDeleteDonation)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "store"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
