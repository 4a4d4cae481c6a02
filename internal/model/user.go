package model

import (
	"strings"
	"time"
)

// HouseholdSize 家庭人数选项，空字符串表示未选择。
type HouseholdSize string

var householdSizes = map[HouseholdSize]struct{}{
	"": {}, "1": {}, "2": {}, "3": {}, "4": {}, "5": {},
	"6": {}, "7": {}, "8": {}, "9": {}, "10+": {},
}

// Valid 判断是否为可选的家庭人数。
func (h HouseholdSize) Valid() bool {
	_, ok := householdSizes[h]
	return ok
}

// ProfileVisibility 个人资料可见性。
type ProfileVisibility string

const (
	VisibilityPublic  ProfileVisibility = "public"
	VisibilityPrivate ProfileVisibility = "private"
)

// Valid 判断是否为合法的可见性取值。
func (v ProfileVisibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// NotificationPrefs 通知偏好。
type NotificationPrefs struct {
	Email bool `json:"email" bson:"email"`
	SMS   bool `json:"sms" bson:"sms" gorm:"default:false"`
}

// PrivacyPrefs 隐私偏好。
type PrivacyPrefs struct {
	ProfileVisibility ProfileVisibility `json:"profileVisibility" bson:"profileVisibility" gorm:"type:varchar(16);default:public"`
	DataSharing       bool              `json:"dataSharing" bson:"dataSharing" gorm:"default:false"`
}

// Preferences 用户偏好设置。
type Preferences struct {
	Notifications NotificationPrefs `json:"notifications" bson:"notifications" gorm:"embedded;embeddedPrefix:notify_"`
	Privacy       PrivacyPrefs      `json:"privacy" bson:"privacy" gorm:"embedded;embeddedPrefix:privacy_"`
}

// DefaultPreferences 返回新用户的默认偏好。
func DefaultPreferences() Preferences {
	return Preferences{
		Notifications: NotificationPrefs{Email: true},
		Privacy:       PrivacyPrefs{ProfileVisibility: VisibilityPublic},
	}
}

// User 表示系统用户。
//
// 三个验证码槽位直接内嵌在用户记录上，每个用途同时最多一个有效验证码，
// Version 用于乐观并发控制，存储层在版本不匹配时拒绝写入。
type User struct {
	ID               string        `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	Name             string        `json:"name" bson:"name" gorm:"type:varchar(100);not null"`
	Email            string        `json:"email" bson:"email" gorm:"type:varchar(191);uniqueIndex;not null"`
	PasswordHash     string        `json:"-" bson:"password" gorm:"column:password;not null"` // bcrypt 哈希
	HouseholdSize    HouseholdSize `json:"householdSize" bson:"householdSize" gorm:"type:varchar(8)"`
	DateOfBirth      *time.Time    `json:"dateOfBirth,omitempty" bson:"dateOfBirth,omitempty"`
	ProfilePhoto     string        `json:"profilePhoto" bson:"profilePhoto" gorm:"type:text"`
	Preferences      Preferences   `json:"preferences" bson:"preferences" gorm:"embedded;embeddedPrefix:pref_"`
	TwoFactorEnabled bool          `json:"twoFactorEnabled" bson:"twoFactorEnabled" gorm:"default:false"`

	PasswordReset  Challenge `json:"-" bson:"passwordReset" gorm:"embedded;embeddedPrefix:password_reset_"`
	TwoFactorSetup Challenge `json:"-" bson:"twoFactorSetup" gorm:"embedded;embeddedPrefix:two_factor_setup_"`
	TwoFactorLogin Challenge `json:"-" bson:"twoFactorLogin" gorm:"embedded;embeddedPrefix:two_factor_login_"`

	Version   int64     `json:"-" bson:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Challenge 返回指定用途的验证码槽位，未知用途返回 nil。
func (u *User) Challenge(p Purpose) *Challenge {
	switch p {
	case PurposePasswordReset:
		return &u.PasswordReset
	case PurposeTwoFactorSetup:
		return &u.TwoFactorSetup
	case PurposeTwoFactorLogin:
		return &u.TwoFactorLogin
	default:
		return nil
	}
}

// DisableTwoFactor 关闭 2FA，并把进行中的 2FA 验证码标记为 cancelled。
func (u *User) DisableTwoFactor(now time.Time) {
	u.TwoFactorEnabled = false
	if u.TwoFactorSetup.Active() {
		u.TwoFactorSetup.Clear(StateCancelled, now)
	}
	if u.TwoFactorLogin.Active() {
		u.TwoFactorLogin.Clear(StateCancelled, now)
	}
}

// NormalizeEmail 统一邮箱格式（去空格、小写）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
