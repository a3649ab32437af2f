package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"DeafFirst-Hub/pkg/logger"
)

// Config 描述了 DeafFirst Hub 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    logger.Config    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
	Connectors ConnectorsConfig `json:"connectors"`
	Commands   CommandsConfig   `json:"commands"`
	Webhooks   WebhooksConfig   `json:"webhooks"`
	EventLog   EventLogConfig   `json:"event_log"`
	Alerts     AlertsConfig     `json:"alerts"`
	Auth       AuthConfig       `json:"auth"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address" env:"DEAFHUB_ADDRESS"`
	// PublicURL 是提供方回调使用的外部地址，Twilio 签名依赖它。
	PublicURL              string `json:"public_url" env:"DEAFHUB_PUBLIC_URL"`
	MaxBodyBytes           int64  `json:"max_body_bytes"`
	RequestTimeoutSeconds  int    `json:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// MetricsConfig 控制独立的指标监听端口，为空时仅在主服务暴露 /metrics。
type MetricsConfig struct {
	Address string `json:"address" env:"DEAFHUB_METRICS_ADDRESS"`
}

// TracingConfig 控制 OTLP 追踪导出。
type TracingConfig struct {
	Enabled     bool    `json:"enabled" env:"DEAFHUB_OTEL_ENABLED"`
	Endpoint    string  `json:"endpoint" env:"DEAFHUB_OTEL_ENDPOINT"`
	ServiceName string  `json:"service_name"`
	SampleRatio float64 `json:"sample_ratio"`
}

// ConnectorsConfig 指向连接器清单 YAML。
type ConnectorsConfig struct {
	Path string `json:"path" env:"DEAFHUB_CONNECTORS"`
}

// CommandsConfig 描述命令路由的可选协作方。
type CommandsConfig struct {
	TopicsPath      string `json:"topics_path"`
	RefundConnector string `json:"refund_connector"`
	SearchConnector string `json:"search_connector"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// WebhooksConfig 描述 Webhook 校验、去重与回复。
type WebhooksConfig struct {
	AllowUnverified           []string          `json:"allow_unverified"`
	SignatureToleranceSeconds int               `json:"signature_tolerance_seconds"`
	DedupTTLSeconds           int               `json:"dedup_ttl_seconds"`
	ASLConnector              string            `json:"asl_connector"`
	Secrets                   WebhookSecrets    `json:"secrets"`
	Idempotency               IdempotencyConfig `json:"idempotency"`
	Replies                   RepliesConfig     `json:"replies"`
}

// WebhookSecrets 保存各平台的校验材料，通常只通过环境变量注入。
type WebhookSecrets struct {
	Stripe              string `json:"stripe" env:"STRIPE_WEBHOOK_SECRET"`
	Twilio              string `json:"twilio" env:"TWILIO_AUTH_TOKEN"`
	TelegramSecretToken string `json:"telegram" env:"TELEGRAM_WEBHOOK_SECRET"`
	DiscordPublicKey    string `json:"discord_public_key" env:"DISCORD_PUBLIC_KEY"`
	WhatsApp            string `json:"whatsapp" env:"WHATSAPP_WEBHOOK_SECRET"`
	WhatsAppVerifyToken string `json:"whatsapp_verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	PinkSync            string `json:"pinksync" env:"PINKSYNC_WEBHOOK_SECRET"`
	April               string `json:"april" env:"APRIL_WEBHOOK_SECRET"`
	Insurance           string `json:"insurance" env:"INSURANCE_WEBHOOK_SECRET"`
	Mux                 string `json:"mux" env:"MUX_WEBHOOK_SECRET"`
}

// IdempotencyConfig 选择去重存储，driver 为 memory 或 redis。
type IdempotencyConfig struct {
	Driver string      `json:"driver" env:"DEAFHUB_IDEMPOTENCY_DRIVER"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Address  string `json:"address" env:"DEAFHUB_REDIS_ADDRESS"`
	Password string `json:"password" env:"DEAFHUB_REDIS_PASSWORD"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RepliesConfig 描述聊天渠道回复所需的凭证。
type RepliesConfig struct {
	TelegramBotToken      string `json:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN"`
	WhatsAppAccessToken   string `json:"whatsapp_access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppPhoneNumberID string `json:"whatsapp_phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	TimeoutSeconds        int    `json:"timeout_seconds"`
}

// EventLogConfig 描述分发日志的写入端。
type EventLogConfig struct {
	MemoryCapacity int        `json:"memory_capacity"`
	Audit          *bool      `json:"audit"`
	SQL            SQLConfig  `json:"sql"`
	AMQP           AMQPConfig `json:"amqp"`
}

// AuditEnabled 在未显式关闭时返回 true。
func (c EventLogConfig) AuditEnabled() bool {
	return c.Audit == nil || *c.Audit
}

// SQLConfig 描述 SQL 写入端，driver 为 mysql 或 sqlite，DSN 为空时不启用。
type SQLConfig struct {
	Driver string `json:"driver" env:"DEAFHUB_EVENTLOG_DRIVER"`
	DSN    string `json:"dsn" env:"DEAFHUB_EVENTLOG_DSN"`
}

// AMQPConfig 描述 RabbitMQ 写入端，URL 为空时不启用。
type AMQPConfig struct {
	URL     string `json:"url" env:"DEAFHUB_AMQP_URL"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// AlertsConfig 描述告警渠道。
type AlertsConfig struct {
	SlackWebhookURL string `json:"slack_webhook_url" env:"DEAFHUB_SLACK_WEBHOOK_URL"`
	SlackChannel    string `json:"slack_channel"`
}

// AuthConfig 描述管理接口的认证方式。
type AuthConfig struct {
	Mode             string   `json:"mode" env:"DEAFHUB_AUTH_MODE"`
	JWTSecret        string   `json:"jwt_secret" env:"DEAFHUB_ADMIN_JWT_SECRET"`
	Issuer           string   `json:"issuer"`
	Audience         []string `json:"audience"`
	AccessTTLSeconds int      `json:"access_ttl_seconds"`
}

// Load 解析 JSON 配置文件，补全默认值后叠加环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		c.Server.RequestTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "deafhubd"
	}

	c.Connectors.Path = resolvePath(baseDir, c.Connectors.Path)
	c.Commands.TopicsPath = resolvePath(baseDir, c.Commands.TopicsPath)
	if c.Commands.TimeoutSeconds <= 0 {
		c.Commands.TimeoutSeconds = 5
	}

	if c.Webhooks.SignatureToleranceSeconds <= 0 {
		c.Webhooks.SignatureToleranceSeconds = 300
	}
	if c.Webhooks.DedupTTLSeconds <= 0 {
		c.Webhooks.DedupTTLSeconds = int((24 * time.Hour).Seconds())
	}
	c.Webhooks.Idempotency.Driver = strings.ToLower(strings.TrimSpace(c.Webhooks.Idempotency.Driver))
	if c.Webhooks.Idempotency.Driver == "" {
		c.Webhooks.Idempotency.Driver = "memory"
	}
	if c.Webhooks.Replies.TimeoutSeconds <= 0 {
		c.Webhooks.Replies.TimeoutSeconds = 10
	}

	if c.EventLog.MemoryCapacity <= 0 {
		c.EventLog.MemoryCapacity = 1000
	}
	if c.EventLog.SQL.Driver == "" {
		c.EventLog.SQL.Driver = "mysql"
	}
	if c.EventLog.SQL.Driver == "sqlite" && c.EventLog.SQL.DSN != "" && !strings.HasPrefix(c.EventLog.SQL.DSN, "file:") && c.EventLog.SQL.DSN != ":memory:" {
		c.EventLog.SQL.DSN = resolvePath(baseDir, c.EventLog.SQL.DSN)
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "deafhub"
	}
	if c.Auth.AccessTTLSeconds <= 0 {
		c.Auth.AccessTTLSeconds = 3600
	}
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	var errs []error
	switch c.Webhooks.Idempotency.Driver {
	case "memory":
	case "redis":
		if c.Webhooks.Idempotency.Redis.Address == "" {
			errs = append(errs, errors.New("webhooks.idempotency.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的去重存储 %q", c.Webhooks.Idempotency.Driver))
	}
	if strings.EqualFold(c.Auth.Mode, "jwt") && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.mode=jwt 需要 DEAFHUB_ADMIN_JWT_SECRET"))
	}
	if c.Webhooks.Replies.WhatsAppAccessToken != "" && c.Webhooks.Replies.WhatsAppPhoneNumberID == "" {
		errs = append(errs, errors.New("WhatsApp 回复需要 phone_number_id"))
	}
	return errors.Join(errs...)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Seconds 将配置中的秒数转换为 time.Duration。
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
