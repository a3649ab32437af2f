package eventlog

import (
	"context"
	"log/slog"

	"DeafFirst-Hub/pkg/logger"
)

// AuditSink 将分发记录写入审计日志。
type AuditSink struct {
	logger *slog.Logger
}

// NewAuditSink 创建审计日志 Sink，l 为空时使用全局审计日志。
func NewAuditSink(l *slog.Logger) *AuditSink {
	return &AuditSink{logger: l}
}

// Name 实现 Sink。
func (a *AuditSink) Name() string { return "audit" }

// Append 以 webhook_dispatch 事件写入审计日志。
func (a *AuditSink) Append(ctx context.Context, entry Entry) error {
	entry.normalize()
	l := a.logger
	if l == nil {
		l = logger.Audit()
	}
	level := slog.LevelInfo
	if entry.Status == StatusError {
		level = slog.LevelWarn
	}
	l.LogAttrs(ctx, level, "webhook_dispatch",
		slog.String("id", entry.ID),
		slog.String("event_id", entry.EventID),
		slog.String("platform", entry.Platform),
		slog.String("event_type", entry.EventType),
		slog.String("status", entry.Status),
		slog.Int("code", entry.Code),
		slog.String("error_code", entry.ErrorCode),
		slog.String("user_id", entry.UserID),
		slog.Bool("duplicate", entry.Duplicate),
		slog.Int64("duration_ms", entry.DurationMS),
	)
	return nil
}

// Close 实现 Sink。
func (a *AuditSink) Close() error { return nil }
