package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/config"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/ratelimit"

	"github.com/redis/go-redis/v9"
	"gopkg.in/gomail.v2"
)

// EmailNotifier 通过 SMTP 发送验证码邮件。
type EmailNotifier struct {
	cfg     *config.EmailConfig
	baseURL string
	limiter *ratelimit.RateLimiter
	logger  *slog.Logger
	send    func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
//
// 参数:
//
//	cfg: SMTP 配置
//	baseURL: 前端地址，用于拼接 2FA 确认链接
//	limiter: 发送节流（可为 nil）
//	logger: 日志记录器
func NewEmailNotifier(cfg *config.EmailConfig, baseURL string, limiter *ratelimit.RateLimiter, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: limiter,
		logger:  logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// SendChallenge 渲染并发送对应用途的邮件。
func (n *EmailNotifier) SendChallenge(ctx context.Context, msg Message) error {
	if !n.cfg.Configured() {
		return fmt.Errorf("email config missing")
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("empty recipient")
	}
	subject, body, err := n.render(msg)
	if err != nil {
		return err
	}
	if err := n.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("wait send slot: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if n.logger != nil {
		n.logger.Info("verification email sent", slog.String("to", msg.To), slog.String("purpose", string(msg.Purpose)))
	}
	return nil
}

// SetupLink 返回 2FA 开启确认链接。
func (n *EmailNotifier) SetupLink(token, email string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("email", email)
	return n.baseURL + "/verification?" + q.Encode()
}

func (n *EmailNotifier) render(msg Message) (string, string, error) {
	name := html.EscapeString(strings.TrimSpace(msg.Name))
	if name == "" {
		name = "there"
	}
	minutes := int(time.Until(msg.ExpiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}
	code := html.EscapeString(msg.Code)

	switch msg.Purpose {
	case model.PurposePasswordReset:
		return "[Food Shield] Password reset code",
			layout("Reset your password", fmt.Sprintf(
				`<p>Hi %s,</p><p>Use this code to reset your password:</p>%s<p>The code expires in %d minutes. If you did not request a reset, you can ignore this email.</p>`,
				name, codeBlock(code), minutes)), nil
	case model.PurposeTwoFactorSetup:
		link := html.EscapeString(n.SetupLink(msg.Token, msg.To))
		return "[Food Shield] Confirm two-factor authentication",
			layout("Turn on two-factor authentication", fmt.Sprintf(
				`<p>Hi %s,</p><p>Enter this code in the app to finish enabling two-factor authentication:</p>%s<p>Or confirm directly:</p><p><a href="%s" style="display:inline-block;padding:12px 20px;background:#16a34a;color:#fff;text-decoration:none;border-radius:8px;font-weight:bold;">Enable two-factor authentication</a></p><p>The code and link expire in %d minutes.</p>`,
				name, codeBlock(code), link, minutes)), nil
	case model.PurposeTwoFactorLogin:
		return "[Food Shield] Your sign-in code",
			layout("Sign-in verification", fmt.Sprintf(
				`<p>Hi %s,</p><p>Your sign-in code is:</p>%s<p>The code expires in %d minutes.</p>`,
				name, codeBlock(code), minutes)), nil
	default:
		return "", "", fmt.Errorf("unknown purpose %q", msg.Purpose)
	}
}

func codeBlock(code string) string {
	return fmt.Sprintf(`<div style="font-size: 28px; font-weight: bold; letter-spacing: 4px; margin: 12px 0;">%s</div>`, code)
}

func layout(title, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 520px; margin: 24px auto; background: #ffffff; border-radius: 12px; border: 1px solid #e5e7eb; overflow: hidden;">
    <div style="background: #14532d; color: #ffffff; padding: 16px 20px; font-weight: bold;">Food Shield · %s</div>
    <div style="padding: 20px;">%s</div>
  </div>
</body>
</html>`, html.EscapeString(title), content)
}

// FromConfig 按配置选择投递实现：SMTP 可用时发邮件，否则写日志。
//
// rdb 可为 nil，此时发送节流不生效。
func FromConfig(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) Dispatcher {
	if cfg.Email.Configured() {
		limiter := ratelimit.NewRedisRateLimiter(rdb, logger, "foodshield:ratelimit:smtp", cfg.Email.SendRate, cfg.Email.SendBurst)
		return NewEmailNotifier(&cfg.Email, cfg.App.PublicBaseURL, limiter, logger)
	}
	logger.Warn("smtp not configured, verification codes are written to the log")
	return NewLogNotifier(logger, !cfg.IsProd())
}
