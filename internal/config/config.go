package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App          AppConfig          `json:"app" yaml:"app"`
	Storage      StorageConfig      `json:"storage" yaml:"storage"`
	Mongo        MongoConfig        `json:"mongo" yaml:"mongo"`
	MySQL        MySQLConfig        `json:"mysql" yaml:"mysql"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	Email        EmailConfig        `json:"email" yaml:"email"`
	Security     SecurityConfig     `json:"security" yaml:"security"`
	Verification VerificationConfig `json:"verification" yaml:"verification"`
	RateLimit    RateLimitConfig    `json:"rate_limit" yaml:"rate_limit"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env            string        `json:"env" yaml:"env"`                         // 运行环境: local / prod
	LogLevel       string        `json:"log_level" yaml:"log_level"`             // 日志级别: debug / info / warn / error
	HTTPAddr       string        `json:"http_addr" yaml:"http_addr"`             // API 服务监听地址
	PublicBaseURL  string        `json:"public_base_url" yaml:"public_base_url"` // 前端地址，用于拼接邮件中的确认链接
	ExposeCodes    bool          `json:"expose_codes" yaml:"expose_codes"`       // 非 prod 环境下是否在响应中返回验证码
	SweepInterval  time.Duration `json:"sweep_interval" yaml:"sweep_interval"`   // 过期食品扫描间隔（如 "1h"）
	SeedDemoData   bool          `json:"seed_demo_data" yaml:"seed_demo_data"`   // 启动时写入演示账号
	ShutdownWindow time.Duration `json:"shutdown_window" yaml:"shutdown_window"` // 优雅关闭等待时间
}

// StorageConfig 选择凭据存储实现。
type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"` // mongo / mysql / memory
}

// MongoConfig MongoDB 配置。
type MongoConfig struct {
	URI      string `json:"uri" yaml:"uri"`
	Database string `json:"database" yaml:"database"`
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn" yaml:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置，Addr 为空表示不启用限流与冷却。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`         // Redis 地址 (host:port)
	Password string `json:"password" yaml:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string  `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort  int     `json:"smtp_port" yaml:"smtp_port"`
	SMTPUser  string  `json:"smtp_user" yaml:"smtp_user"`
	SMTPPass  string  `json:"smtp_pass" yaml:"smtp_pass"`
	FromEmail string  `json:"from_email" yaml:"from_email"`
	SendRate  float64 `json:"send_rate" yaml:"send_rate"`   // 每秒最多发送邮件数（0 表示不限）
	SendBurst float64 `json:"send_burst" yaml:"send_burst"` // 发送突发容量
}

// Configured 判断 SMTP 是否可用。
func (e EmailConfig) Configured() bool {
	return e.SMTPHost != "" && e.SMTPUser != "" && e.FromEmail != ""
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret       string        `json:"jwt_secret" yaml:"jwt_secret"`             // JWT 签名密钥
	SessionTTL      time.Duration `json:"session_ttl" yaml:"session_ttl"`           // 会话有效期
	CORSOrigins     []string      `json:"cors_origins" yaml:"cors_origins"`         // 允许的跨域来源
	ConcealAccounts bool          `json:"conceal_accounts" yaml:"conceal_accounts"` // 未知邮箱也返回成功
}

// VerificationConfig 验证码相关配置。
type VerificationConfig struct {
	PasswordResetTTL  time.Duration `json:"password_reset_ttl" yaml:"password_reset_ttl"`
	TwoFactorSetupTTL time.Duration `json:"two_factor_setup_ttl" yaml:"two_factor_setup_ttl"`
	TwoFactorLoginTTL time.Duration `json:"two_factor_login_ttl" yaml:"two_factor_login_ttl"`
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`       // 单个验证码允许的错误次数
	ResendCooldown    time.Duration `json:"resend_cooldown" yaml:"resend_cooldown"` // 重发冷却时间
	DispatchTimeout   time.Duration `json:"dispatch_timeout" yaml:"dispatch_timeout"`
	DispatchWorkers   int           `json:"dispatch_workers" yaml:"dispatch_workers"`
	DispatchQueue     int           `json:"dispatch_queue" yaml:"dispatch_queue"`
	Delivery          string        `json:"delivery" yaml:"delivery"` // inline: API 进程内发送; stream: 写入 Redis Stream 由 mailer 发送
}

// 验证码投递方式。
const (
	DeliveryInline = "inline"
	DeliveryStream = "stream"
)

// StreamDelivery 判断是否通过 Redis Stream 交给 mailer 投递。
func (v VerificationConfig) StreamDelivery() bool {
	return strings.EqualFold(strings.TrimSpace(v.Delivery), DeliveryStream)
}

// RateLimitConfig 公共接口的令牌桶限流配置。
type RateLimitConfig struct {
	Rate  float64 `json:"rate" yaml:"rate"`   // token/s
	Burst float64 `json:"burst" yaml:"burst"` // 桶容量
}

// IsProd 判断是否为生产环境。
func (c *Config) IsProd() bool {
	return strings.EqualFold(strings.TrimSpace(c.App.Env), "prod")
}

// ExposeCodes 仅在非生产环境且显式打开时返回 true。
func (c *Config) ExposeCodes() bool {
	return c.App.ExposeCodes && !c.IsProd()
}

// Load 从 JSON 文件加载配置。
//
// 它会先读取工作目录下的 .env（如存在），再读取 configs/config.json，
// 文件不存在则使用默认值，最后由环境变量覆盖。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// .env 缺失不是错误
	_ = godotenv.Load()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate 检查启动所必需的配置项。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required for storage driver mongo")
		}
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required for storage driver mysql")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(c.Verification.Delivery)) {
	case "", DeliveryInline:
	case DeliveryStream:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required for verification delivery stream")
		}
	default:
		return fmt.Errorf("unknown verification delivery %q", c.Verification.Delivery)
	}
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.IsProd() && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("security.jwt_secret must be changed in prod")
	}
	return nil
}

const defaultJWTSecret = "dev_secret_change_me"

// Default 返回不读取文件与环境变量的默认配置。
func Default() *Config {
	return getDefaultConfig()
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:            "local",
			LogLevel:       "info",
			HTTPAddr:       ":5001",
			PublicBaseURL:  "http://localhost:4200",
			ExposeCodes:    false,
			SweepInterval:  time.Hour,
			SeedDemoData:   false,
			ShutdownWindow: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "mongo",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "foodshield",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/foodshield?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SendRate:  1,
			SendBurst: 5,
		},
		Security: SecurityConfig{
			JWTSecret:   defaultJWTSecret,
			SessionTTL:  7 * 24 * time.Hour,
			CORSOrigins: []string{"http://localhost:4200"},
		},
		Verification: VerificationConfig{
			PasswordResetTTL:  10 * time.Minute,
			TwoFactorSetupTTL: 10 * time.Minute,
			TwoFactorLoginTTL: 2 * time.Minute,
			MaxAttempts:       5,
			ResendCooldown:    60 * time.Second,
			DispatchTimeout:   30 * time.Second,
			DispatchWorkers:   4,
			DispatchQueue:     256,
			Delivery:          DeliveryInline,
		},
		RateLimit: RateLimitConfig{
			Rate:  3,
			Burst: 10,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.PublicBaseURL == "" {
		cfg.App.PublicBaseURL = defaults.App.PublicBaseURL
	}
	if cfg.App.SweepInterval == 0 {
		cfg.App.SweepInterval = defaults.App.SweepInterval
	}
	if cfg.App.ShutdownWindow == 0 {
		cfg.App.ShutdownWindow = defaults.App.ShutdownWindow
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = defaults.Mongo.URI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaults.Mongo.Database
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.SessionTTL == 0 {
		cfg.Security.SessionTTL = defaults.Security.SessionTTL
	}
	if len(cfg.Security.CORSOrigins) == 0 {
		cfg.Security.CORSOrigins = defaults.Security.CORSOrigins
	}

	v := &cfg.Verification
	if v.PasswordResetTTL == 0 {
		v.PasswordResetTTL = defaults.Verification.PasswordResetTTL
	}
	if v.TwoFactorSetupTTL == 0 {
		v.TwoFactorSetupTTL = defaults.Verification.TwoFactorSetupTTL
	}
	if v.TwoFactorLoginTTL == 0 {
		v.TwoFactorLoginTTL = defaults.Verification.TwoFactorLoginTTL
	}
	if v.MaxAttempts == 0 {
		v.MaxAttempts = defaults.Verification.MaxAttempts
	}
	if v.ResendCooldown == 0 {
		v.ResendCooldown = defaults.Verification.ResendCooldown
	}
	if v.DispatchTimeout == 0 {
		v.DispatchTimeout = defaults.Verification.DispatchTimeout
	}
	if v.DispatchWorkers == 0 {
		v.DispatchWorkers = defaults.Verification.DispatchWorkers
	}
	if v.DispatchQueue == 0 {
		v.DispatchQueue = defaults.Verification.DispatchQueue
	}
	if v.Delivery == "" {
		v.Delivery = defaults.Verification.Delivery
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit.Rate = defaults.RateLimit.Rate
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("mongo_uri", "MONGO_URI")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.App.HTTPAddr = ":" + v
	}
	if v := os.Getenv("APP_PUBLIC_BASE_URL"); v != "" {
		cfg.App.PublicBaseURL = v
	}
	if v := os.Getenv("APP_EXPOSE_CODES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.ExposeCodes = b
		}
	}
	if v := os.Getenv("APP_SEED_DEMO_DATA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.SeedDemoData = b
		}
	}
	if v := os.Getenv("APP_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SweepInterval = d
		}
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := viper.GetString("mongo_uri"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		cfg.Mongo.Database = v
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Security.SessionTTL = d
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Security.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("CONCEAL_ACCOUNTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Security.ConcealAccounts = b
		}
	}

	if v := os.Getenv("VERIFY_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Verification.MaxAttempts = i
		}
	}
	if v := os.Getenv("VERIFY_RESEND_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Verification.ResendCooldown = d
		}
	}

	if v := os.Getenv("VERIFY_DELIVERY"); v != "" {
		cfg.Verification.Delivery = strings.ToLower(strings.TrimSpace(v))
	}

	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Rate = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.Burst = f
		}
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	// EMAIL_USER / EMAIL_PASS 兼容旧部署脚本
	if v := firstEnv("SMTP_HOST", "EMAIL_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := firstEnv("SMTP_USER", "EMAIL_USER"); v != "" {
		cfg.Email.SMTPUser = v
		if cfg.Email.FromEmail == "" {
			cfg.Email.FromEmail = v
		}
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	} else if v := os.Getenv("EMAIL_PASS"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "foodshield",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}
