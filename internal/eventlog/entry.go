// Package eventlog 记录每一次 Webhook 分发的结果，并提供查询与统计能力。
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// 分发结果状态。
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry 描述一次分发的日志记录。
type Entry struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Platform   string    `json:"platform"`
	EventType  string    `json:"event_type,omitempty"`
	Status     string    `json:"status"`
	Code       int       `json:"code"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Message    string    `json:"message,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Duplicate  bool      `json:"duplicate"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// normalize 补齐缺失的 ID 与时间。
func (e *Entry) normalize() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
}

// Sink 是事件日志的写入端。
type Sink interface {
	Name() string
	Append(ctx context.Context, entry Entry) error
	Close() error
}

// Reader 提供管理接口所需的查询能力。
type Reader interface {
	List(ctx context.Context, opts ...ListOption) ([]Entry, error)
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// AppendDetached 使用脱离请求取消信号的上下文写入日志，避免客户端断开导致记录丢失。
func AppendDetached(ctx context.Context, sink Sink, entry Entry, timeout time.Duration) error {
	if sink == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return sink.Append(ctx, entry)
}
