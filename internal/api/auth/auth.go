package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/cooldown"
	"github.com/Jun20220703/bit216as/internal/session"
	"github.com/Jun20220703/bit216as/internal/store"
	"github.com/Jun20220703/bit216as/internal/verification"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// 确认类接口统一使用的错误信息，不区分邮箱不存在与验证码错误。
const msgInvalidCode = "invalid or expired verification code"

// 取消 2FA 开启流程缺少有效凭证时的错误信息。
const msgCancelDenied = "not allowed to cancel this setup"

// Options Handler 行为开关。
type Options struct {
	ExposeCodes     bool          // 在响应中返回验证码（仅限非生产环境）
	ConcealAccounts bool          // 未知邮箱的签发请求同样返回 200
	SecureCookie    bool          // 会话 cookie 仅通过 HTTPS 发送
	EventsInterval  time.Duration // 2fa-events 轮询间隔
}

// Handler 提供账号、密码重置与两步验证接口。
type Handler struct {
	users    store.UserStore
	mgr      *verification.Manager
	sessions *session.Issuer
	cooldown *cooldown.Cooldown
	opts     Options
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。
func NewHandler(users store.UserStore, mgr *verification.Manager, sessions *session.Issuer, cd *cooldown.Cooldown, opts Options, logger *slog.Logger) *Handler {
	if opts.EventsInterval <= 0 {
		opts.EventsInterval = time.Second
	}
	return &Handler{
		users:    users,
		mgr:      mgr,
		sessions: sessions,
		cooldown: cd,
		opts:     opts,
		logger:   logger,
	}
}

type registerRequest struct {
	Name          string `json:"name" binding:"required,min=2,max=100"`
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=6"`
	HouseholdSize string `json:"householdSize"`
	DateOfBirth   string `json:"dateOfBirth"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      *model.User `json:"user"`
}

// Register 创建新用户并直接签发会话。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if len(name) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must be at least 2 characters"})
		return
	}
	household := model.HouseholdSize(strings.TrimSpace(req.HouseholdSize))
	if !household.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid household size"})
		return
	}
	dob, err := parseDate(req.DateOfBirth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date of birth"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := &model.User{
		Name:          name,
		Email:         model.NormalizeEmail(req.Email),
		PasswordHash:  string(hash),
		HouseholdSize: household,
		DateOfBirth:   dob,
		Preferences:   model.DefaultPreferences(),
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
			return
		}
		if h.logger != nil {
			h.logger.Error("create user failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "create user failed"})
		return
	}

	if h.logger != nil {
		h.logger.Info("user registered", slog.String("email", user.Email))
	}
	h.startSession(c, http.StatusCreated, user)
}

// Login 校验密码；已开启 2FA 的账号改为签发登录验证码。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := model.NormalizeEmail(req.Email)

	user, err := h.users.FindByEmail(c.Request.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.fail(c, storageErr(err))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if user.TwoFactorEnabled {
		issued, err := h.mgr.Issue(c.Request.Context(), user, model.PurposeTwoFactorLogin)
		if err != nil {
			h.fail(c, err)
			return
		}
		resp := gin.H{"requires2FA": true, "email": user.Email, "expiresAt": issued.ExpiresAt}
		h.attachCode(resp, issued)
		c.JSON(http.StatusOK, resp)
		return
	}

	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("email", email))
	}
	h.startSession(c, http.StatusOK, user)
}

// Logout 清除会话 cookie。令牌本身无状态，到期前仍然有效。
func (h *Handler) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.opts.SecureCookie, true)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *Handler) startSession(c *gin.Context, status int, user *model.User) {
	token, err := h.sessions.Issue(user)
	if err != nil {
		if h.logger != nil {
			h.logger.Error("sign token failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token.Value, maxAge, "/", "", h.opts.SecureCookie, true)
	c.JSON(status, sessionResponse{Token: token.Value, ExpiresAt: token.ExpiresAt, User: user})
}

// issue 在冷却窗口允许时签发验证码，失败时已写出响应并返回 false。
func (h *Handler) issue(c *gin.Context, user *model.User, purpose model.Purpose) (*verification.Issued, bool) {
	ctx := c.Request.Context()
	subject := string(purpose) + ":" + user.Email
	ok, retry, err := h.cooldown.Begin(ctx, subject)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("cooldown check failed", slog.String("email", user.Email), slog.String("error", err.Error()))
		}
	} else if !ok {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "please wait before requesting another code",
			"retry_after": retrySeconds(retry),
		})
		return nil, false
	}

	issued, err := h.mgr.Issue(ctx, user, purpose)
	if err != nil {
		_ = h.cooldown.Reset(context.WithoutCancel(ctx), subject)
		h.fail(c, err)
		return nil, false
	}
	return issued, true
}

func (h *Handler) attachCode(resp gin.H, issued *verification.Issued) {
	if !h.opts.ExposeCodes || issued == nil {
		return
	}
	resp["verificationCode"] = issued.Code
	if issued.Token != "" {
		resp["tempToken"] = issued.Token
	}
}

// lookup 按邮箱查询用户，非 not-found 的错误视为存储不可用。
func (h *Handler) lookup(ctx context.Context, email string) (*model.User, error) {
	user, err := h.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, storageErr(err)
	}
	return user, err
}

// fail 统一将领域错误映射为 HTTP 状态码。
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, verification.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, request a new code", "retry_after": 0})
	case errors.Is(err, verification.ErrNoChallenge),
		errors.Is(err, verification.ErrExpired),
		errors.Is(err, verification.ErrInvalidCode):
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidCode})
	case errors.Is(err, verification.ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid or expired link"})
	case errors.Is(err, verification.ErrUnknownPurpose):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown purpose"})
	case errors.Is(err, verification.ErrConflict), errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "account was updated concurrently, please retry"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, verification.ErrStorageUnavailable):
		if h.logger != nil {
			h.logger.Error("storage unavailable", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		if h.logger != nil {
			h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", verification.ErrStorageUnavailable, err)
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, s); err != nil {
			return nil, err
		}
	}
	t = t.UTC()
	return &t, nil
}
