package cooldown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "foodshield:cooldown:"

// Cooldown 限制同一主体在窗口期内只能触发一次操作（如重发验证码）。
//
// 配置了 Redis 时使用 SETNX + TTL，多实例共享；否则退化为进程内计时。
type Cooldown struct {
	rdb    *redis.Client
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	local map[string]time.Time
}

// New 创建冷却器，rdb 可为 nil。
func New(rdb *redis.Client, window time.Duration) *Cooldown {
	if window <= 0 {
		window = time.Minute
	}
	return &Cooldown{
		rdb:    rdb,
		window: window,
		now:    time.Now,
		local:  make(map[string]time.Time),
	}
}

// Begin 尝试开始一个冷却窗口。
//
// 返回值:
//
//	bool: true 表示允许执行并已开始计时
//	time.Duration: 不允许时剩余的冷却时间
//	error: Redis 调用失败
func (c *Cooldown) Begin(ctx context.Context, subject string) (bool, time.Duration, error) {
	if c == nil || subject == "" {
		return true, 0, nil
	}
	key := keyPrefix + hashSubject(subject)
	if c.rdb == nil {
		return c.beginLocal(key)
	}

	ok, err := c.rdb.SetNX(ctx, key, "1", c.window).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown setnx: %w", err)
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("cooldown pttl: %w", err)
	}
	if ttl < 0 {
		ttl = c.window
	}
	return false, ttl, nil
}

// Reset 清除冷却状态（例如签发失败后允许立即重试）。
func (c *Cooldown) Reset(ctx context.Context, subject string) error {
	if c == nil || subject == "" {
		return nil
	}
	key := keyPrefix + hashSubject(subject)
	if c.rdb == nil {
		c.mu.Lock()
		delete(c.local, key)
		c.mu.Unlock()
		return nil
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}

func (c *Cooldown) beginLocal(key string) (bool, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if until, ok := c.local[key]; ok && now.Before(until) {
		return false, until.Sub(now), nil
	}
	c.local[key] = now.Add(c.window)
	return true, 0, nil
}

func hashSubject(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}
