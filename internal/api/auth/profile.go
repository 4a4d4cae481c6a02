package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jun20220703/bit216as/internal/api/middleware"
	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/store"

	"github.com/gin-gonic/gin"
)

type profileRequest struct {
	Name          *string            `json:"name"`
	HouseholdSize *string            `json:"householdSize"`
	DateOfBirth   *string            `json:"dateOfBirth"`
	ProfilePhoto  *string            `json:"profilePhoto"`
	Preferences   *model.Preferences `json:"preferences"`
}

func (h *Handler) currentUser(c *gin.Context) (*model.User, bool) {
	user, err := h.users.FindByID(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			err = storageErr(err)
		}
		h.fail(c, err)
		return nil, false
	}
	return user, true
}

// Profile 返回当前登录用户。
func (h *Handler) Profile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateProfile 更新个人资料与偏好设置，只修改请求中出现的字段。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 || len(name) > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be between 2 and 100 characters"})
			return
		}
		user.Name = name
	}
	if req.HouseholdSize != nil {
		size := model.HouseholdSize(strings.TrimSpace(*req.HouseholdSize))
		if !size.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid household size"})
			return
		}
		user.HouseholdSize = size
	}
	if req.DateOfBirth != nil {
		dob, err := parseDate(*req.DateOfBirth)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date of birth"})
			return
		}
		user.DateOfBirth = dob
	}
	if req.ProfilePhoto != nil {
		user.ProfilePhoto = strings.TrimSpace(*req.ProfilePhoto)
	}
	if req.Preferences != nil {
		if !req.Preferences.Privacy.ProfileVisibility.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile visibility"})
			return
		}
		user.Preferences = *req.Preferences
	}

	if err := h.users.Save(c.Request.Context(), user); err != nil {
		if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			err = storageErr(err)
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// DisableTwoFactor 关闭 2FA 并作废进行中的 2FA 验证码。
func (h *Handler) DisableTwoFactor(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	user.DisableTwoFactor(user.UpdatedAt)
	if err := h.users.Save(c.Request.Context(), user); err != nil {
		if !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
			err = storageErr(err)
		}
		h.fail(c, err)
		return
	}
	if h.logger != nil {
		h.logger.Info("two-factor disabled", slog.String("email", user.Email))
	}
	c.JSON(http.StatusOK, gin.H{"twoFactorEnabled": false})
}
