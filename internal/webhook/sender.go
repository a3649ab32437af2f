package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"DeafFirst-Hub/pkg/logger"
)

const defaultSendTimeout = 10 * time.Second

// Sender 将回复投递到聊天渠道。
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// LogSender 仅记录回复内容，是未配置渠道凭证时的默认实现。
type LogSender struct {
	Platform Platform
}

// Send 实现 Sender。
func (s LogSender) Send(_ context.Context, to, text string) error {
	logger.Named("webhook").Info("发送渠道回复",
		slog.String("platform", string(s.Platform)),
		slog.String("to", to),
		slog.Int("length", len(text)),
	)
	return nil
}

// TelegramSender 通过 Bot API sendMessage 回复。
type TelegramSender struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

// NewTelegramSender 创建 Telegram 回复发送器。
func NewTelegramSender(token string, timeout time.Duration) *TelegramSender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &TelegramSender{Token: token, BaseURL: "https://api.telegram.org", Client: &http.Client{Timeout: timeout}}
}

// Send 实现 Sender。
func (s *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(s.BaseURL, "/"), s.Token)
	return postJSON(ctx, s.Client, endpoint, "", map[string]any{"chat_id": chatID, "text": text})
}

// WhatsAppSender 通过 Graph API 发送文本消息。
type WhatsAppSender struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	Client        *http.Client
}

// NewWhatsAppSender 创建 WhatsApp 回复发送器。
func NewWhatsAppSender(token, phoneNumberID string, timeout time.Duration) *WhatsAppSender {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &WhatsAppSender{
		Token:         token,
		PhoneNumberID: phoneNumberID,
		BaseURL:       "https://graph.facebook.com/v19.0",
		Client:        &http.Client{Timeout: timeout},
	}
}

// Send 实现 Sender。
func (s *WhatsAppSender) Send(ctx context.Context, to, text string) error {
	endpoint := fmt.Sprintf("%s/%s/messages", strings.TrimRight(s.BaseURL, "/"), s.PhoneNumberID)
	return postJSON(ctx, s.Client, endpoint, s.Token, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

func postJSON(ctx context.Context, client *http.Client, endpoint, bearer string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化回复失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构建回复请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultSendTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送回复失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("渠道返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
