// Package asl 提供手语翻译员连接器：VSL Labs AI 翻译、SignASL 真人翻译与
// PinkSync 无障碍套件。预订结果在本地生成，不访问网络。
package asl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"DeafFirst-Hub/pkg/plugin"
)

const defaultDurationMinutes = 60

// Config 是三个翻译服务共用的配置块。
type Config struct {
	APIKey           string `mapstructure:"api_key"`
	BaseURL          string `mapstructure:"base_url"`
	SubscriptionTier string `mapstructure:"subscription_tier"`
}

type service struct {
	name        string
	baseURL     string
	requiresKey bool
	book        func(s *Interpreter, appt plugin.Appointment) (*plugin.InterpreterSession, error)
}

var services = map[string]service{
	"vsl_labs": {name: "vsl_labs", baseURL: "https://vsl.labs", requiresKey: true, book: bookVSL},
	"signasl":  {name: "signasl", baseURL: "https://signasl.com", book: bookSignASL},
	"pinksync": {name: "pinksync", baseURL: "https://pinksync.com", book: bookPinkSync},
}

// Providers 返回支持的翻译服务名称。
func Providers() []string {
	return []string{"pinksync", "signasl", "vsl_labs"}
}

// Interpreter 实现 asl_interpreter 能力。
type Interpreter struct {
	svc service
	cfg Config
}

// New 创建指定服务的翻译员连接器。
func New(provider string, cfg Config) (*Interpreter, error) {
	svc, ok := services[provider]
	if !ok {
		return nil, fmt.Errorf("%w: 未知的手语翻译服务 %q", plugin.ErrInvalidConfig, provider)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = svc.baseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SubscriptionTier == "" {
		cfg.SubscriptionTier = "basic"
	}
	return &Interpreter{svc: svc, cfg: cfg}, nil
}

// Constructor 返回注册表使用的构造函数。
func Constructor(provider string) plugin.Constructor {
	return func(raw map[string]any) (plugin.Connector, error) {
		var cfg Config
		if err := plugin.DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		return New(provider, cfg)
	}
}

// ValidateConfig 检查 API Key 与订阅等级。
func (s *Interpreter) ValidateConfig() error {
	if s.svc.requiresKey && strings.TrimSpace(s.cfg.APIKey) == "" {
		return fmt.Errorf("%s 需要 api_key", s.svc.name)
	}
	if s.svc.name == "pinksync" {
		switch s.cfg.SubscriptionTier {
		case "basic", "premium":
		default:
			return fmt.Errorf("pinksync 订阅等级无效: %q", s.cfg.SubscriptionTier)
		}
	}
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url 必须是绝对地址: %q", s.cfg.BaseURL)
	}
	return nil
}

// RequestInterpreter 为预约分配翻译员。
func (s *Interpreter) RequestInterpreter(ctx context.Context, appt plugin.Appointment) (*plugin.InterpreterSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.svc.book(s, appt)
}

var embedTemplate = template.Must(template.New("embed").Parse(
	`<div id="{{.Provider}}-interpreter-{{.SessionID}}" class="{{.Provider}}-interpreter-container">` +
		`<iframe src="{{.Src}}" width="400" height="300" frameborder="0" allow="camera; microphone"></iframe>` +
		`</div>`))

// EmbedCode 返回翻译画面的 iframe 片段。
func (s *Interpreter) EmbedCode(ctx context.Context, sessionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(sessionID) == "" {
		return "", fmt.Errorf("%w: session_id 不能为空", plugin.ErrInvalidRequest)
	}
	var buf bytes.Buffer
	err := embedTemplate.Execute(&buf, map[string]string{
		"Provider":  strings.ReplaceAll(s.svc.name, "_", "-"),
		"SessionID": sessionID,
		"Src":       s.cfg.BaseURL + "/embed/" + url.PathEscape(sessionID),
	})
	if err != nil {
		return "", fmt.Errorf("渲染嵌入代码失败: %w", err)
	}
	return buf.String(), nil
}

func bookVSL(s *Interpreter, appt plugin.Appointment) (*plugin.InterpreterSession, error) {
	if appt.SessionID == "" {
		return nil, fmt.Errorf("%w: vsl_labs 需要 session_id", plugin.ErrInvalidRequest)
	}
	return &plugin.InterpreterSession{
		InterpreterID: "vsl_ai_001",
		Type:          "ai_interpreter",
		Capabilities:  []string{"text_to_asl", "asl_to_text", "financial_terminology"},
		SessionURL:    s.cfg.BaseURL + "/session/" + url.PathEscape(appt.SessionID),
	}, nil
}

func bookSignASL(s *Interpreter, appt plugin.Appointment) (*plugin.InterpreterSession, error) {
	if appt.ID == "" {
		return nil, fmt.Errorf("%w: signasl 需要 appointment_id", plugin.ErrInvalidRequest)
	}
	duration := appt.DurationMinutes
	if duration <= 0 {
		duration = defaultDurationMinutes
	}
	return &plugin.InterpreterSession{
		InterpreterID:   "signasl_" + appt.ID,
		Type:            "live_interpreter",
		Language:        "ASL",
		ScheduledAt:     appt.ScheduledAt,
		DurationMinutes: duration,
		JoinURL:         s.cfg.BaseURL + "/join/" + url.PathEscape(appt.ID),
	}, nil
}

func bookPinkSync(s *Interpreter, appt plugin.Appointment) (*plugin.InterpreterSession, error) {
	if appt.SessionID == "" {
		return nil, fmt.Errorf("%w: pinksync 需要 session_id", plugin.ErrInvalidRequest)
	}
	svcs := []string{"asl_interpreter", "captions", "gloss_conversion"}
	if s.cfg.SubscriptionTier == "premium" {
		svcs = append(svcs, "real_time_translation", "ai_context_analysis")
	}
	return &plugin.InterpreterSession{
		InterpreterID: "pinksync_" + appt.SessionID,
		Type:          "full_accessibility_suite",
		Tier:          s.cfg.SubscriptionTier,
		Services:      svcs,
		SessionURL:    s.cfg.BaseURL + "/session/" + url.PathEscape(appt.SessionID),
	}, nil
}

// Register 将所有翻译服务加入 catalog。
func Register(catalog *plugin.Catalog) error {
	var errs []error
	for _, name := range Providers() {
		errs = append(errs, catalog.Add(plugin.TypeASLInterpreter, name, Constructor(name)))
	}
	return errors.Join(errs...)
}

var _ plugin.ASLInterpreter = (*Interpreter)(nil)
