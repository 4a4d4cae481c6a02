package model

import (
	"fmt"
	"time"
)

// Purpose 验证码用途，封闭枚举。
type Purpose string

const (
	PurposePasswordReset  Purpose = "password-reset"
	PurposeTwoFactorSetup Purpose = "two-factor-setup"
	PurposeTwoFactorLogin Purpose = "two-factor-login"
)

// Purposes 返回全部用途。
func Purposes() []Purpose {
	return []Purpose{PurposePasswordReset, PurposeTwoFactorSetup, PurposeTwoFactorLogin}
}

// Valid 判断用途是否合法。
func (p Purpose) Valid() bool {
	switch p {
	case PurposePasswordReset, PurposeTwoFactorSetup, PurposeTwoFactorLogin:
		return true
	default:
		return false
	}
}

// HasToken 只有 2FA 开启流程附带一次性链接 token。
func (p Purpose) HasToken() bool {
	return p == PurposeTwoFactorSetup
}

// ParsePurpose 解析用途字符串。
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown purpose %q", s)
	}
	return p, nil
}

// ChallengeState 验证码槽位状态。空值表示 NONE。
type ChallengeState string

const (
	StateNone      ChallengeState = ""
	StateIssued    ChallengeState = "issued"
	StateConfirmed ChallengeState = "confirmed"
	StateExpired   ChallengeState = "expired"
	StateCancelled ChallengeState = "cancelled"
)

// String 对外展示用，NONE 显示为 "none"。
func (s ChallengeState) String() string {
	if s == StateNone {
		return "none"
	}
	return string(s)
}

// Terminal 判断是否为终止状态。
func (s ChallengeState) Terminal() bool {
	return s == StateConfirmed || s == StateExpired || s == StateCancelled
}

// Challenge 单个用途的验证码记录。
type Challenge struct {
	Code        string         `json:"-" bson:"verificationCode,omitempty" gorm:"column:code;type:varchar(16)"`
	Token       string         `json:"-" bson:"tempToken,omitempty" gorm:"column:token;type:varchar(64);index"`
	State       ChallengeState `json:"state" bson:"state,omitempty" gorm:"column:state;type:varchar(16)"`
	IssuedAt    *time.Time     `json:"issuedAt,omitempty" bson:"issuedAt,omitempty" gorm:"column:issued_at"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty" bson:"codeExpires,omitempty" gorm:"column:expires_at"`
	ConfirmedAt *time.Time     `json:"confirmedAt,omitempty" bson:"confirmedAt,omitempty" gorm:"column:confirmed_at"`
	Attempts    int            `json:"-" bson:"attempts" gorm:"column:attempts;default:0"`
}

// Active 判断槽位中是否存在未使用的验证码（不检查过期）。
func (c *Challenge) Active() bool {
	return c != nil && c.State == StateIssued && c.Code != ""
}

// Clear 清空验证码、token 与过期时间，只保留终止状态。
func (c *Challenge) Clear(state ChallengeState, now time.Time) {
	c.Code = ""
	c.Token = ""
	c.ExpiresAt = nil
	c.Attempts = 0
	c.State = state
	if state == StateConfirmed {
		t := now
		c.ConfirmedAt = &t
	}
}
