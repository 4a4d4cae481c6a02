package outbox

import (
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
	"github.com/Jun20220703/bit216as/internal/pkg/notify"
)

// Envelope 表示通知流中的一条消息。
type Envelope struct {
	To          string        `json:"to"`
	Name        string        `json:"name"`
	Purpose     model.Purpose `json:"purpose"`
	Code        string        `json:"code"`
	Token       string        `json:"token,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at"`
	PublishedAt time.Time     `json:"published_at"`
	Retry       int           `json:"retry"`
}

// NewEnvelope 由一次投递请求构造流消息。
func NewEnvelope(msg notify.Message, now time.Time) *Envelope {
	return &Envelope{
		To:          msg.To,
		Name:        msg.Name,
		Purpose:     msg.Purpose,
		Code:        msg.Code,
		Token:       msg.Token,
		ExpiresAt:   msg.ExpiresAt,
		PublishedAt: now,
	}
}

// Message 还原为 notify.Message。
func (e *Envelope) Message() notify.Message {
	return notify.Message{
		To:        e.To,
		Name:      e.Name,
		Purpose:   e.Purpose,
		Code:      e.Code,
		Token:     e.Token,
		ExpiresAt: e.ExpiresAt,
	}
}

// Expired 验证码已过期的消息不再投递。
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
