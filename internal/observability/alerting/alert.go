// Package alerting 把需要人工介入的分发失败推送到告警渠道。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	xerrors "DeafFirst-Hub/internal/errors"
)

// Event 是一次告警。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Platform   string
	EventID    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 发送告警。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc 让普通函数满足 Notifier。
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Multi 依次调用每个通知器，单个失败不影响其余渠道。
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log 把告警写入给定的日志，通常是审计日志。
func Log(l *slog.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, event Event) error {
		l.LogAttrs(ctx, slog.LevelError, "alert",
			slog.String("code", string(event.Code)),
			slog.String("severity", string(event.Severity)),
			slog.String("platform", event.Platform),
			slog.String("event_id", event.EventID),
			slog.String("message", event.Message),
			slog.Any("metadata", event.Metadata),
		)
		return nil
	})
}

// Slack 通过 Incoming Webhook 发送告警。
type Slack struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

// NewSlack 创建 Slack 通知器，timeout 非正时取 5 秒。
func NewSlack(webhookURL, channel string, timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Slack{WebhookURL: webhookURL, Channel: channel, Client: &http.Client{Timeout: timeout}}
}

func (s *Slack) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(map[string]string{"channel": s.Channel, "text": slackText(event)})
	if err != nil {
		return fmt.Errorf("slack: 编码消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: 构建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack: 状态码 %d", resp.StatusCode)
	}
	return nil
}

// slackText 生成消息正文，元数据按键排序逐行追加。
func slackText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s - %s (平台 %s, 事件 %s)", event.Severity, event.Code, event.Message, event.Platform, event.EventID)
	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
	}
	return b.String()
}
