package auth

import (
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Email            string `json:"email" binding:"required,email"`
	VerificationCode string `json:"verificationCode" binding:"required"`
}

type resetRequest struct {
	Email            string `json:"email" binding:"required,email"`
	VerificationCode string `json:"verificationCode" binding:"required"`
	NewPassword      string `json:"newPassword" binding:"required,min=6"`
	ConfirmPassword  string `json:"confirmPassword"`
}

type cancelRequest struct {
	Email     string `json:"email"`
	TempToken string `json:"tempToken"`
}

type resendRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose" binding:"required"`
}

type twoFactorStatus struct {
	State            string     `json:"state"`
	TwoFactorEnabled bool       `json:"twoFactorEnabled"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

// bindEmail 读取并校验请求中的邮箱，失败时写出 400。
func bindEmail(c *gin.Context) (string, bool) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", false
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return "", false
	}
	return email, true
}

// findForIssue 查询签发目标；未知邮箱按 ConcealAccounts 返回 404 或静默 200。
func (h *Handler) findForIssue(c *gin.Context, email string) (*model.User, bool) {
	user, err := h.lookup(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		if h.opts.ConcealAccounts {
			c.JSON(http.StatusOK, gin.H{"email": email})
		} else {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		}
		return nil, false
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return user, true
}

// findForConfirm 查询确认目标；未知邮箱与错误验证码返回相同的 400。
func (h *Handler) findForConfirm(c *gin.Context, email string) (*model.User, bool) {
	user, err := h.lookup(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidCode})
		return nil, false
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return user, true
}

// ForgotPassword 签发重置密码验证码。
func (h *Handler) ForgotPassword(c *gin.Context) {
	email, ok := bindEmail(c)
	if !ok {
		return
	}
	user, ok := h.findForIssue(c, email)
	if !ok {
		return
	}
	issued, ok := h.issue(c, user, model.PurposePasswordReset)
	if !ok {
		return
	}
	resp := gin.H{"email": user.Email, "expiresAt": issued.ExpiresAt}
	h.attachCode(resp, issued)
	c.JSON(http.StatusOK, resp)
}

// VerifyResetCode 校验重置密码验证码但不消费，供前端进入设置新密码步骤。
func (h *Handler) VerifyResetCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := h.findForConfirm(c, model.NormalizeEmail(req.Email))
	if !ok {
		return
	}
	if err := h.mgr.Verify(c.Request.Context(), user, model.PurposePasswordReset, req.VerificationCode); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "code verified"})
}

// ResetPassword 消费重置验证码并更新密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwords do not match"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	ctx := c.Request.Context()
	user, ok := h.findForConfirm(c, model.NormalizeEmail(req.Email))
	if !ok {
		return
	}
	// 新密码与验证码消费在同一次保存中提交
	err = h.mgr.ConfirmWith(ctx, user, model.PurposePasswordReset, req.VerificationCode, func(u *model.User) {
		u.PasswordHash = string(hash)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.logger != nil {
		h.logger.Info("password reset", slog.String("email", user.Email))
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}

// EnableTwoFactor 签发开启 2FA 的验证码与邮件确认链接。
func (h *Handler) EnableTwoFactor(c *gin.Context) {
	email, ok := bindEmail(c)
	if !ok {
		return
	}
	user, ok := h.findForIssue(c, email)
	if !ok {
		return
	}
	issued, ok := h.issue(c, user, model.PurposeTwoFactorSetup)
	if !ok {
		return
	}
	resp := gin.H{"email": user.Email, "expiresAt": issued.ExpiresAt}
	h.attachCode(resp, issued)
	c.JSON(http.StatusOK, resp)
}

// VerifyTwoFactorCode 通过验证码确认开启 2FA。
func (h *Handler) VerifyTwoFactorCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := h.findForConfirm(c, model.NormalizeEmail(req.Email))
	if !ok {
		return
	}
	if err := h.mgr.Confirm(c.Request.Context(), user, model.PurposeTwoFactorSetup, req.VerificationCode); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"twoFactorEnabled": true})
}

// TempLogin 通过邮件中的链接确认开启 2FA 并直接登录。
func (h *Handler) TempLogin(c *gin.Context) {
	user, err := h.mgr.ConfirmByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.startSession(c, http.StatusOK, user)
}

// VerifyTwoFactorLogin 校验 2FA 登录验证码并签发会话。
func (h *Handler) VerifyTwoFactorLogin(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := h.findForConfirm(c, model.NormalizeEmail(req.Email))
	if !ok {
		return
	}
	if err := h.mgr.Confirm(c.Request.Context(), user, model.PurposeTwoFactorLogin, req.VerificationCode); err != nil {
		h.fail(c, err)
		return
	}
	if h.logger != nil {
		h.logger.Info("user logged in", slog.String("email", user.Email), slog.Bool("two_factor", true))
	}
	h.startSession(c, http.StatusOK, user)
}

// CancelTwoFactor 放弃进行中的 2FA 开启流程。
//
// 调用方需持有该账号的会话，或提供邮件链接中的 tempToken。
func (h *Handler) CancelTwoFactor(c *gin.Context) {
	var req cancelRequest
	// 持有会话时请求体可以为空
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, ok := h.cancelTarget(c, model.NormalizeEmail(req.Email), strings.TrimSpace(req.TempToken))
	if !ok {
		return
	}
	if err := h.mgr.Cancel(c.Request.Context(), user, model.PurposeTwoFactorSetup); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "two-factor setup cancelled"})
}

// cancelTarget 按会话或 tempToken 确定要取消的账号，失败时已写出响应。
func (h *Handler) cancelTarget(c *gin.Context, email, tempToken string) (*model.User, bool) {
	ctx := c.Request.Context()
	raw, ok := middleware.SessionToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
		return nil, false
	}
	if raw != "" {
		claims, err := h.sessions.Parse(raw)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return nil, false
		}
		if email != "" && email != model.NormalizeEmail(claims.Email) {
			c.JSON(http.StatusForbidden, gin.H{"error": msgCancelDenied})
			return nil, false
		}
		user, err := h.users.FindByID(ctx, claims.Subject)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				err = storageErr(err)
			}
			h.fail(c, err)
			return nil, false
		}
		return user, true
	}

	if email == "" || tempToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in or provide the setup link token"})
		return nil, false
	}
	user, err := h.lookup(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.fail(c, err)
		return nil, false
	}
	// 未知邮箱与 token 不匹配返回相同的 403
	if user == nil || !user.TwoFactorSetup.Active() ||
		subtle.ConstantTimeCompare([]byte(user.TwoFactorSetup.Token), []byte(tempToken)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": msgCancelDenied})
		return nil, false
	}
	return user, true
}

// statusTarget 查询状态接口的目标账号；开启 ConcealAccounts 时未知邮箱视为没有验证码。
func (h *Handler) statusTarget(c *gin.Context, email string) (*model.User, bool) {
	user, err := h.lookup(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) && h.opts.ConcealAccounts {
		return &model.User{Email: email}, true
	}
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	return user, true
}

// TwoFactorStatus 返回 2FA 开启流程的当前状态。
func (h *Handler) TwoFactorStatus(c *gin.Context) {
	user, ok := h.statusTarget(c, model.NormalizeEmail(c.Query("email")))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.setupStatus(user))
}

// TwoFactorEvents 以 SSE 推送 2FA 开启状态，进入终止状态（含过期）后关闭。
func (h *Handler) TwoFactorEvents(c *gin.Context) {
	ctx := c.Request.Context()
	email := model.NormalizeEmail(c.Query("email"))
	user, ok := h.statusTarget(c, email)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ticker := time.NewTicker(h.opts.EventsInterval)
	defer ticker.Stop()

	last := ""
	for {
		st := h.setupStatus(user)
		if st.State != last {
			c.SSEvent("state", st)
			c.Writer.Flush()
			last = st.State
		}
		if st.State != model.StateIssued.String() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		next, err := h.users.FindByEmail(ctx, email)
		if err != nil {
			c.SSEvent("error", gin.H{"error": "status unavailable"})
			c.Writer.Flush()
			return
		}
		user = next
	}
}

func (h *Handler) setupStatus(user *model.User) twoFactorStatus {
	state := h.mgr.State(user, model.PurposeTwoFactorSetup)
	st := twoFactorStatus{State: state.String(), TwoFactorEnabled: user.TwoFactorEnabled}
	if state == model.StateIssued {
		st.ExpiresAt = user.TwoFactorSetup.ExpiresAt
	}
	return st
}

// ResendCode 按用途重新签发验证码，受冷却时间限制。
func (h *Handler) ResendCode(c *gin.Context) {
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	purpose, err := model.ParsePurpose(strings.TrimSpace(req.Purpose))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown purpose"})
		return
	}
	email := model.NormalizeEmail(req.Email)
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	user, ok := h.findForIssue(c, email)
	if !ok {
		return
	}

	switch purpose {
	case model.PurposeTwoFactorLogin:
		// 只能重发已由密码登录触发的验证码
		if !user.TwoFactorEnabled || user.TwoFactorLogin.State != model.StateIssued {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no pending sign-in"})
			return
		}
	case model.PurposeTwoFactorSetup:
		if user.TwoFactorEnabled {
			c.JSON(http.StatusBadRequest, gin.H{"error": "two-factor authentication already enabled"})
			return
		}
	case model.PurposePasswordReset:
	}

	issued, ok := h.issue(c, user, purpose)
	if !ok {
		return
	}
	resp := gin.H{"email": user.Email, "purpose": purpose, "expiresAt": issued.ExpiresAt}
	h.attachCode(resp, issued)
	c.JSON(http.StatusOK, resp)
}
