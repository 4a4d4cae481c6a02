// Package session 签发与校验会话 JWT（HS256）。
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSigningKey   = errors.New("session: signing key not configured")
	ErrInvalidToken = errors.New("session: invalid token")
)

// Claims 会话声明：sub 为用户 ID，附带邮箱。
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Token 签发结果。
type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issuer 会话签发器。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer 创建签发器，ttl 不大于 0 时为 7 天。
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Issuer{
		secret: []byte(strings.TrimSpace(secret)),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock 替换时钟（测试用）。
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}

// Issue 为用户签发会话令牌。
func (i *Issuer) Issue(user *model.User) (Token, error) {
	if len(i.secret) == 0 {
		return Token{}, ErrSigningKey
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: user.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

// Parse 校验签名与有效期并返回声明。
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	if len(i.secret) == 0 {
		return nil, ErrSigningKey
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
