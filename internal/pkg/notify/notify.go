package notify

import (
	"context"
	"errors"
	"time"

	"github.com/Jun20220703/bit216as/internal/model"
)

// ErrQueueFull 异步投递队列已满或已关闭。
var ErrQueueFull = errors.New("notify: dispatch queue full")

// Message 一次验证码投递的内容。
type Message struct {
	To        string
	Name      string
	Purpose   model.Purpose
	Code      string
	Token     string // 仅 two-factor-setup 携带，用于拼接确认链接
	ExpiresAt time.Time
}

// Dispatcher 定义验证码投递接口。
//
// 投递失败只影响本次送达，不改变验证码状态。
type Dispatcher interface {
	SendChallenge(ctx context.Context, msg Message) error
}

// DispatcherFunc 允许普通函数实现 Dispatcher。
type DispatcherFunc func(ctx context.Context, msg Message) error

func (f DispatcherFunc) SendChallenge(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
