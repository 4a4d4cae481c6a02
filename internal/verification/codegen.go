package verification

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
)

const (
	codeMin    = 100000
	codeSpan   = 900000 // [100000, 999999]
	tokenBytes = 32
)

// Generator 生成验证码与一次性链接 token。
type Generator interface {
	Code() (string, error)
	Token() (string, error)
}

// RandomGenerator 使用密码学安全随机源。
type RandomGenerator struct {
	Reader io.Reader // 为空时使用 crypto/rand.Reader
}

func (g RandomGenerator) reader() io.Reader {
	if g.Reader != nil {
		return g.Reader
	}
	return rand.Reader
}

// Code 返回 [100000, 999999] 上均匀分布的 6 位数字。
func (g RandomGenerator) Code() (string, error) {
	n, err := rand.Int(g.reader(), big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Token 返回 256 位随机数的 URL 安全 base64 编码（无填充）。
func (g RandomGenerator) Token() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.reader(), buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
