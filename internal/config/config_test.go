package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideKeys = []string{
	"APP_ENV", "APP_LOG_LEVEL", "APP_HTTP_ADDR", "PORT", "APP_PUBLIC_BASE_URL", "APP_EXPOSE_CODES",
	"APP_SEED_DEMO_DATA", "APP_SWEEP_INTERVAL", "STORAGE_DRIVER", "MONGO_URI", "MONGO_DB",
	"JWT_SECRET", "SESSION_TTL", "CORS_ORIGINS", "CONCEAL_ACCOUNTS", "VERIFY_MAX_ATTEMPTS",
	"VERIFY_RESEND_COOLDOWN", "VERIFY_DELIVERY", "APP_RATE_LIMIT", "APP_RATE_BURST", "DB_DSN", "DB_HOST", "DB_PORT",
	"DB_USER", "DB_PASSWORD", "DB_NAME", "REDIS_ADDR", "REDIS_PASSWORD", "SMTP_HOST", "EMAIL_HOST",
	"SMTP_PORT", "SMTP_USER", "EMAIL_USER", "SMTP_PASS", "EMAIL_PASS", "SMTP_FROM",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideKeys {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":5001" {
		t.Fatalf("expected default addr, got %q", cfg.App.HTTPAddr)
	}
	if cfg.Storage.Driver != "mongo" {
		t.Fatalf("expected mongo driver, got %q", cfg.Storage.Driver)
	}
	v := cfg.Verification
	if v.PasswordResetTTL != 10*time.Minute || v.TwoFactorSetupTTL != 10*time.Minute || v.TwoFactorLoginTTL != 2*time.Minute {
		t.Fatalf("unexpected ttls %+v", v)
	}
	if v.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", v.MaxAttempts)
	}
	if cfg.Security.SessionTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d session, got %s", cfg.Security.SessionTTL)
	}
}

func TestLoad_ParsesDurationsAndAppliesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
		"app": {"env": "local", "sweep_interval": "15m", "expose_codes": true},
		"storage": {"driver": "memory"},
		"security": {"jwt_secret": "file-secret", "session_ttl": "24h"},
		"verification": {"two_factor_login_ttl": "90s", "resend_cooldown": "30s"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.SweepInterval != 15*time.Minute {
		t.Fatalf("expected 15m sweep, got %s", cfg.App.SweepInterval)
	}
	if cfg.Security.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session, got %s", cfg.Security.SessionTTL)
	}
	if cfg.Verification.TwoFactorLoginTTL != 90*time.Second || cfg.Verification.ResendCooldown != 30*time.Second {
		t.Fatalf("unexpected verification %+v", cfg.Verification)
	}
	if cfg.Verification.PasswordResetTTL != 10*time.Minute {
		t.Fatalf("expected default reset ttl, got %s", cfg.Verification.PasswordResetTTL)
	}
	if !cfg.ExposeCodes() {
		t.Fatal("expected codes exposed outside prod")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"verification": {"two_factor_login_ttl": "soon"}}`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "two_factor_login_ttl") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("STORAGE_DRIVER", "MySQL")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("EMAIL_USER", "mailer@example.com")
	t.Setenv("EMAIL_PASS", "app-password")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VERIFY_MAX_ATTEMPTS", "3")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.App.HTTPAddr)
	}
	if cfg.Storage.Driver != "mysql" {
		t.Fatalf("expected mysql, got %q", cfg.Storage.Driver)
	}
	if !strings.Contains(cfg.MySQL.DSN, "db.internal:3306") || !strings.Contains(cfg.MySQL.DSN, ":s3cret@") {
		t.Fatalf("unexpected dsn %q", cfg.MySQL.DSN)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Redis.Addr)
	}
	if cfg.Security.JWTSecret != "env-secret" {
		t.Fatalf("unexpected secret %q", cfg.Security.JWTSecret)
	}
	if cfg.Email.SMTPUser != "mailer@example.com" || cfg.Email.FromEmail != "mailer@example.com" || cfg.Email.SMTPPass != "app-password" {
		t.Fatalf("unexpected email %+v", cfg.Email)
	}
	if !cfg.Email.Configured() {
		t.Fatal("expected smtp configured")
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Security.CORSOrigins)
	}
	if cfg.Verification.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Verification.MaxAttempts)
	}
}

func TestExposeCodes_NeverInProd(t *testing.T) {
	cfg := Default()
	cfg.App.ExposeCodes = true
	cfg.App.Env = "PROD"
	if cfg.ExposeCodes() {
		t.Fatal("codes must not be exposed in prod")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.App.Env = "prod"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default secret to be rejected in prod")
	}
	cfg.Security.JWTSecret = "a-real-secret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Verification.Delivery = DeliveryStream
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected stream delivery without redis to be rejected")
	}
	cfg.Redis.Addr = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Verification.StreamDelivery() {
		t.Fatal("expected stream delivery")
	}

	cfg.Storage.Driver = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "out.json")
	cfg := Default()
	cfg.Verification.TwoFactorLoginTTL = 3 * time.Minute
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"two_factor_login_ttl": "3m0s"`) {
		t.Fatalf("expected duration string in %s", data)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Verification.TwoFactorLoginTTL != 3*time.Minute {
		t.Fatalf("expected 3m, got %s", loaded.Verification.TwoFactorLoginTTL)
	}
}
