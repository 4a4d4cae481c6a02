// Package verification 管理按用途划分的验证码生命周期。
//
// 每个用户每个用途最多一个有效验证码：再次签发会覆盖旧码，
// 确认成功后立即作废，过期在确认时惰性判定（now > expiresAt 即过期）。
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/metrics"
	"github.com/Jun20220703/bit216as/internal/pkg/notify"
	"github.com/Jun20220703/bit216as/internal/store"
)

// Config 各用途有效期与错误次数上限。
type Config struct {
	PasswordResetTTL  time.Duration
	TwoFactorSetupTTL time.Duration
	TwoFactorLoginTTL time.Duration
	MaxAttempts       int // 0 表示不限制
}

// DefaultConfig 默认有效期：重置密码 10 分钟，开启 2FA 10 分钟，2FA 登录 2 分钟。
func DefaultConfig() Config {
	return Config{
		PasswordResetTTL:  10 * time.Minute,
		TwoFactorSetupTTL: 10 * time.Minute,
		TwoFactorLoginTTL: 2 * time.Minute,
		MaxAttempts:       5,
	}
}

// TTL 返回用途对应的有效期。
func (c Config) TTL(p model.Purpose) (time.Duration, error) {
	switch p {
	case model.PurposePasswordReset:
		return c.PasswordResetTTL, nil
	case model.PurposeTwoFactorSetup:
		return c.TwoFactorSetupTTL, nil
	case model.PurposeTwoFactorLogin:
		return c.TwoFactorLoginTTL, nil
	default:
		return 0, ErrUnknownPurpose
	}
}

// Issued 一次签发的结果。Code 是否返回给客户端由调用方决定。
type Issued struct {
	Purpose   model.Purpose
	Code      string
	Token     string
	ExpiresAt time.Time
}

// Manager 验证码会话管理器。
type Manager struct {
	users      store.UserStore
	dispatcher notify.Dispatcher
	gen        Generator
	cfg        Config
	now        func() time.Time
	logger     *slog.Logger
}

// NewManager 创建管理器。
//
// 参数:
//
//	users: 用户存储
//	dispatcher: 验证码投递（应为异步实现，可为 nil）
//	cfg: 有效期配置，零值字段使用默认值
//	logger: 日志记录器（可为 nil）
func NewManager(users store.UserStore, dispatcher notify.Dispatcher, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = def.PasswordResetTTL
	}
	if cfg.TwoFactorSetupTTL <= 0 {
		cfg.TwoFactorSetupTTL = def.TwoFactorSetupTTL
	}
	if cfg.TwoFactorLoginTTL <= 0 {
		cfg.TwoFactorLoginTTL = def.TwoFactorLoginTTL
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &Manager{
		users:      users,
		dispatcher: dispatcher,
		gen:        RandomGenerator{},
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock 替换时钟（测试用）。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetGenerator 替换随机源（测试用）。
func (m *Manager) SetGenerator(g Generator) {
	m.gen = g
}

// Config 返回生效的配置。
func (m *Manager) Config() Config {
	return m.cfg
}

// Issue 为 user 签发 purpose 用途的新验证码并持久化，随后交给投递器。
//
// 旧验证码（及 token）立即失效，错误计数清零。投递失败只记录日志。
func (m *Manager) Issue(ctx context.Context, user *model.User, purpose model.Purpose) (*Issued, error) {
	ttl, err := m.cfg.TTL(purpose)
	if err != nil {
		return nil, err
	}
	ch := user.Challenge(purpose)

	code, err := m.gen.Code()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	var token string
	if purpose.HasToken() {
		if token, err = m.gen.Token(); err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
	}

	now := m.now().UTC()
	expiresAt := now.Add(ttl)
	prev := *ch
	*ch = model.Challenge{
		Code:      code,
		Token:     token,
		State:     model.StateIssued,
		IssuedAt:  &now,
		ExpiresAt: &expiresAt,
	}
	if err := m.save(ctx, user); err != nil {
		*ch = prev
		return nil, err
	}
	metrics.VerificationIssuedTotal.WithLabelValues(string(purpose)).Inc()
	if m.logger != nil {
		m.logger.Info("verification code issued",
			slog.String("email", user.Email),
			slog.String("purpose", string(purpose)),
			slog.Time("expires_at", expiresAt))
	}

	m.dispatch(ctx, user, purpose, code, token, expiresAt)

	return &Issued{Purpose: purpose, Code: code, Token: token, ExpiresAt: expiresAt}, nil
}

func (m *Manager) dispatch(ctx context.Context, user *model.User, purpose model.Purpose, code, token string, expiresAt time.Time) {
	if m.dispatcher == nil {
		return
	}
	err := m.dispatcher.SendChallenge(ctx, notify.Message{
		To:        user.Email,
		Name:      user.Name,
		Purpose:   purpose,
		Code:      code,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if err != nil && m.logger != nil {
		m.logger.Warn("dispatch verification failed",
			slog.String("email", user.Email),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()))
	}
}

// Confirm 校验验证码，成功后作废该验证码；two-factor-setup 成功时开启 2FA。
func (m *Manager) Confirm(ctx context.Context, user *model.User, purpose model.Purpose, code string) error {
	return m.check(ctx, user, purpose, code, true, nil)
}

// ConfirmWith 与 Confirm 相同，apply 对用户的修改与消费验证码在同一次保存中提交。
// 保存失败时用户恢复原状，验证码仍然有效。
func (m *Manager) ConfirmWith(ctx context.Context, user *model.User, purpose model.Purpose, code string, apply func(u *model.User)) error {
	return m.check(ctx, user, purpose, code, true, apply)
}

// Verify 与 Confirm 相同的校验，但成功时不消费验证码（错误仍计数）。
func (m *Manager) Verify(ctx context.Context, user *model.User, purpose model.Purpose, code string) error {
	return m.check(ctx, user, purpose, code, false, nil)
}

func (m *Manager) check(ctx context.Context, user *model.User, purpose model.Purpose, code string, consume bool, apply func(*model.User)) error {
	ch := user.Challenge(purpose)
	if ch == nil {
		return ErrUnknownPurpose
	}
	label := string(purpose)
	if !ch.Active() {
		metrics.VerificationConfirmTotal.WithLabelValues(label, "no_challenge").Inc()
		return ErrNoChallenge
	}

	now := m.now().UTC()
	if ch.ExpiresAt == nil || now.After(*ch.ExpiresAt) {
		metrics.VerificationConfirmTotal.WithLabelValues(label, "expired").Inc()
		if err := m.expire(ctx, user, purpose, now); err != nil {
			return err
		}
		return ErrExpired
	}

	code = strings.TrimSpace(code)
	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) != 1 {
		prev := *ch
		ch.Attempts++
		if m.cfg.MaxAttempts > 0 && ch.Attempts >= m.cfg.MaxAttempts {
			ch.Clear(model.StateExpired, now)
			metrics.VerificationConfirmTotal.WithLabelValues(label, "locked").Inc()
			if err := m.save(ctx, user); err != nil {
				*ch = prev
				return err
			}
			if m.logger != nil {
				m.logger.Warn("verification locked after failed attempts",
					slog.String("email", user.Email),
					slog.String("purpose", label))
			}
			return ErrTooManyAttempts
		}
		metrics.VerificationConfirmTotal.WithLabelValues(label, "invalid").Inc()
		if err := m.save(ctx, user); err != nil {
			*ch = prev
			return err
		}
		return ErrInvalidCode
	}

	if !consume {
		metrics.VerificationConfirmTotal.WithLabelValues(label, "verified").Inc()
		return nil
	}
	if err := m.complete(ctx, user, purpose, now, apply); err != nil {
		return err
	}
	metrics.VerificationConfirmTotal.WithLabelValues(label, "ok").Inc()
	return nil
}

// ConfirmByToken 通过邮件链接确认 2FA 开启，返回确认后的用户。
func (m *Manager) ConfirmByToken(ctx context.Context, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	purpose := model.PurposeTwoFactorSetup
	user, err := m.users.FindByChallengeToken(ctx, purpose, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	ch := user.Challenge(purpose)
	if !ch.Active() || subtle.ConstantTimeCompare([]byte(ch.Token), []byte(token)) != 1 {
		return nil, ErrInvalidToken
	}
	now := m.now().UTC()
	if ch.ExpiresAt == nil || now.After(*ch.ExpiresAt) {
		if err := m.expire(ctx, user, purpose, now); err != nil {
			return nil, err
		}
		return nil, ErrInvalidToken
	}
	if err := m.complete(ctx, user, purpose, now, nil); err != nil {
		return nil, err
	}
	metrics.VerificationConfirmTotal.WithLabelValues(string(purpose), "ok").Inc()
	return user, nil
}

// Cancel 无条件作废该用途的验证码。
func (m *Manager) Cancel(ctx context.Context, user *model.User, purpose model.Purpose) error {
	ch := user.Challenge(purpose)
	if ch == nil {
		return ErrUnknownPurpose
	}
	prev := *ch
	ch.Clear(model.StateCancelled, m.now().UTC())
	if err := m.save(ctx, user); err != nil {
		*ch = prev
		return err
	}
	if m.logger != nil {
		m.logger.Info("verification cancelled", slog.String("email", user.Email), slog.String("purpose", string(purpose)))
	}
	return nil
}

// State 返回对外可见的状态，已过期但尚未清理的验证码报告为 expired。
func (m *Manager) State(user *model.User, purpose model.Purpose) model.ChallengeState {
	ch := user.Challenge(purpose)
	if ch == nil {
		return model.StateNone
	}
	if ch.State == model.StateIssued && ch.ExpiresAt != nil && m.now().After(*ch.ExpiresAt) {
		return model.StateExpired
	}
	return ch.State
}

// Wait 等待投递器中已入队的任务完成（投递器支持时）。
func (m *Manager) Wait() {
	if w, ok := m.dispatcher.(interface{ Wait() }); ok {
		w.Wait()
	}
}

func (m *Manager) complete(ctx context.Context, user *model.User, purpose model.Purpose, now time.Time, apply func(*model.User)) error {
	prev := *user
	user.Challenge(purpose).Clear(model.StateConfirmed, now)
	if purpose == model.PurposeTwoFactorSetup {
		user.TwoFactorEnabled = true
	}
	if apply != nil {
		apply(user)
	}
	if err := m.save(ctx, user); err != nil {
		*user = prev
		return err
	}
	if m.logger != nil {
		m.logger.Info("verification confirmed", slog.String("email", user.Email), slog.String("purpose", string(purpose)))
	}
	return nil
}

// expire 清理过期验证码。持久化失败时槽位保持原状并返回存储错误。
func (m *Manager) expire(ctx context.Context, user *model.User, purpose model.Purpose, now time.Time) error {
	ch := user.Challenge(purpose)
	prev := *ch
	ch.Clear(model.StateExpired, now)
	if err := m.save(ctx, user); err != nil {
		*ch = prev
		if m.logger != nil {
			m.logger.Warn("clear expired challenge failed",
				slog.String("email", user.Email),
				slog.String("purpose", string(purpose)),
				slog.String("error", err.Error()))
		}
		return err
	}
	return nil
}

func (m *Manager) save(ctx context.Context, user *model.User) error {
	err := m.users.Save(ctx, user)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return ErrConflict
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
