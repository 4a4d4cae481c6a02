package notify

import (
	"context"
	"log/slog"
)

// LogNotifier 未配置 SMTP 时的兜底实现，把投递内容写入日志。
type LogNotifier struct {
	logger      *slog.Logger
	includeCode bool
}

// NewLogNotifier includeCode 仅应在非生产环境打开。
func NewLogNotifier(logger *slog.Logger, includeCode bool) *LogNotifier {
	return &LogNotifier{logger: logger, includeCode: includeCode}
}

func (n *LogNotifier) SendChallenge(ctx context.Context, msg Message) error {
	if n.logger == nil {
		return nil
	}
	attrs := []any{
		slog.String("to", msg.To),
		slog.String("purpose", string(msg.Purpose)),
		slog.Time("expires_at", msg.ExpiresAt),
	}
	if n.includeCode {
		attrs = append(attrs, slog.String("code", msg.Code))
		if msg.Token != "" {
			attrs = append(attrs, slog.String("token", msg.Token))
		}
	}
	n.logger.Info("verification challenge (smtp not configured)", attrs...)
	return nil
}
