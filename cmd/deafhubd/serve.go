package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"DeafFirst-Hub/internal/api"
	"DeafFirst-Hub/internal/auth"
	"DeafFirst-Hub/internal/command"
	"DeafFirst-Hub/internal/config"
	"DeafFirst-Hub/internal/connectors"
	"DeafFirst-Hub/internal/eventlog"
	"DeafFirst-Hub/internal/observability/alerting"
	"DeafFirst-Hub/internal/observability/metrics"
	"DeafFirst-Hub/internal/observability/tracing"
	"DeafFirst-Hub/internal/webhook"
	"DeafFirst-Hub/pkg/logger"
	"DeafFirst-Hub/pkg/plugin"
)

type loader func() (*config.Config, error)

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), load)
		},
	}
}

func serve(ctx context.Context, load loader) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("deafhubd")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("关闭追踪导出失败", slog.Any("error", err))
		}
	}()

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}
	defer registry.Close()

	router, err := buildRouter(cfg, registry)
	if err != nil {
		return err
	}

	sinks, err := buildEventLog(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("关闭分发日志失败", slog.Any("error", err))
		}
	}()
	reader, _ := sinks.Reader()

	store, err := buildIdempotencyStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	opts := []webhook.Option{
		webhook.WithRouter(router),
		webhook.WithExecutor(registry),
		webhook.WithIdempotencyStore(store),
		webhook.WithEventSink(sinks),
		webhook.WithAlerts(buildAlerts(cfg)),
		webhook.WithSendTimeout(config.Seconds(cfg.Webhooks.Replies.TimeoutSeconds)),
		webhook.WithObserver(func(platform, status, code string, duplicate bool, elapsed time.Duration) {
			metrics.ObserveDispatch(platform, status, code, elapsed)
			if duplicate {
				metrics.ObserveDuplicate(platform)
			}
		}),
	}
	opts = append(opts, buildSenders(cfg)...)
	dispatcher, err := webhook.NewDispatcher(webhook.Config{
		Secrets:            webhookSecrets(cfg.Webhooks.Secrets),
		AllowUnverified:    cfg.Webhooks.AllowUnverified,
		SignatureTolerance: config.Seconds(cfg.Webhooks.SignatureToleranceSeconds),
		DedupTTL:           config.Seconds(cfg.Webhooks.DedupTTLSeconds),
		ProcessingLease:    config.Seconds(cfg.Server.RequestTimeoutSeconds) + leaseMargin,
		ASLConnector:       cfg.Webhooks.ASLConnector,
	}, opts...)
	if err != nil {
		return err
	}
	if len(cfg.Webhooks.AllowUnverified) > 0 {
		log.Warn("以下平台跳过签名校验，仅限开发环境", slog.Any("platforms", cfg.Webhooks.AllowUnverified))
	}

	authService, err := buildAuth(cfg)
	if err != nil {
		return err
	}
	if authService.Mode() == auth.ModeDisabled {
		log.Warn("管理接口未启用认证，连接器与分发日志接口对外开放")
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	serverOpts := []api.Option{
		api.WithCommandRouter(router),
		api.WithRegistry(registry),
		api.WithAuth(authService),
		api.WithPublicURL(cfg.Server.PublicURL),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithRequestTimeout(config.Seconds(cfg.Server.RequestTimeoutSeconds)),
		api.WithShutdownTimeout(config.Seconds(cfg.Server.ShutdownTimeoutSeconds)),
	}
	if reader != nil {
		serverOpts = append(serverOpts, api.WithEventReader(reader))
	}
	server := api.NewServer(cfg.Server.Address, dispatcher, serverOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("deafhubd 已退出")
	return nil
}

// buildRegistry 按连接器清单构建注册表。单个连接器失败只记录告警，不阻止启动。
func buildRegistry(cfg *config.Config, log *slog.Logger) (*plugin.Registry, error) {
	opts := []plugin.Option{
		plugin.WithLogger(logger.Named("connectors")),
		plugin.WithObserver(func(t plugin.CapabilityType, name, verb, outcome string, elapsed time.Duration) {
			metrics.ObserveConnector(string(t), name, verb, outcome, elapsed)
		}),
	}
	if cfg.Connectors.Path == "" {
		log.Warn("未配置连接器清单，命令协作方与 ASL 调度不可用")
		return plugin.NewRegistry(opts...), nil
	}

	inventory, err := plugin.LoadRegistryConfig(cfg.Connectors.Path)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		plugin.WithPolicy(inventory.Policy),
		plugin.WithExecuteTimeout(inventory.Defaults.Timeout),
	)
	registry := plugin.NewRegistry(opts...)

	catalog, err := connectors.NewCatalog()
	if err != nil {
		return nil, err
	}
	if err := registry.Bootstrap(inventory, catalog); err != nil {
		log.Warn("部分连接器注册失败", slog.Any("error", err))
	}
	log.Info("连接器注册完成", slog.Int("count", len(registry.List(""))))
	return registry, nil
}

func buildRouter(cfg *config.Config, registry *plugin.Registry) (*command.Router, error) {
	opts := []command.Option{
		command.WithLogger(logger.Named("command")),
		command.WithCollaboratorTimeout(config.Seconds(cfg.Commands.TimeoutSeconds)),
		command.WithObserver(func(kind command.Kind, platform string, status command.Status, _ time.Duration) {
			metrics.ObserveCommand(kind.String(), platform, string(status))
		}),
	}
	if cfg.Commands.TopicsPath != "" {
		topics, err := command.LoadTopics(cfg.Commands.TopicsPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, command.WithTopics(topics))
	}
	if name := cfg.Commands.RefundConnector; name != "" {
		opts = append(opts, command.WithRefundLookup(command.ConnectorRefundLookup{Executor: registry, Name: name}))
	}
	if name := cfg.Commands.SearchConnector; name != "" {
		opts = append(opts, command.WithSearcher(command.ConnectorSearcher{Executor: registry, Name: name}))
	}
	return command.NewRouter(opts...), nil
}

// buildEventLog 组装分发日志写入端。SQL 写入端排在首位，优先承担查询。
func buildEventLog(ctx context.Context, cfg *config.Config) (*eventlog.Fanout, error) {
	var sinks []eventlog.Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}

	if cfg.EventLog.SQL.DSN != "" {
		sqlSink, err := eventlog.OpenSQL(ctx, eventlog.SQLConfig{
			Driver: cfg.EventLog.SQL.Driver,
			DSN:    cfg.EventLog.SQL.DSN,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sqlSink)
	}
	sinks = append(sinks, eventlog.NewMemorySink(cfg.EventLog.MemoryCapacity))
	if cfg.EventLog.AuditEnabled() {
		sinks = append(sinks, eventlog.NewAuditSink(logger.Audit()))
	}
	if cfg.EventLog.AMQP.URL != "" {
		amqpSink, err := eventlog.NewAMQPSink(eventlog.AMQPConfig{
			URL:     cfg.EventLog.AMQP.URL,
			Queue:   cfg.EventLog.AMQP.Queue,
			Durable: cfg.EventLog.AMQP.Durable,
		})
		if err != nil {
			closeAll()
			return nil, err
		}
		sinks = append(sinks, amqpSink)
	}
	return eventlog.NewFanout(sinks, eventlog.WithFailureObserver(metrics.ObserveEventLogFailure)), nil
}

func buildIdempotencyStore(ctx context.Context, cfg *config.Config) (webhook.IdempotencyStore, error) {
	switch cfg.Webhooks.Idempotency.Driver {
	case "", "memory":
		return webhook.NewMemoryIdempotencyStore(), nil
	case "redis":
		redisCfg := cfg.Webhooks.Idempotency.Redis
		return webhook.NewRedisIdempotencyStore(ctx, webhook.RedisIdempotencyConfig{
			Address:  redisCfg.Address,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
			Prefix:   redisCfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的去重存储: %s", cfg.Webhooks.Idempotency.Driver)
	}
}

func buildSenders(cfg *config.Config) []webhook.Option {
	replies := cfg.Webhooks.Replies
	timeout := config.Seconds(replies.TimeoutSeconds)
	var opts []webhook.Option
	if replies.TelegramBotToken != "" {
		opts = append(opts, webhook.WithSender(webhook.PlatformTelegram, webhook.NewTelegramSender(replies.TelegramBotToken, timeout)))
	}
	if replies.WhatsAppAccessToken != "" {
		opts = append(opts, webhook.WithSender(webhook.PlatformWhatsApp,
			webhook.NewWhatsAppSender(replies.WhatsAppAccessToken, replies.WhatsAppPhoneNumberID, timeout)))
	}
	return opts
}

// leaseMargin 覆盖请求超时之后的日志写入与去重存储更新。
const leaseMargin = 30 * time.Second

func buildAlerts(cfg *config.Config) alerting.Notifier {
	notifiers := alerting.Multi{alerting.Log(logger.Audit())}
	if cfg.Alerts.SlackWebhookURL != "" {
		notifiers = append(notifiers, alerting.NewSlack(cfg.Alerts.SlackWebhookURL, cfg.Alerts.SlackChannel, 5*time.Second))
	}
	return notifiers
}

func buildAuth(cfg *config.Config) (*auth.Service, error) {
	return auth.NewService(auth.Config{
		Mode: auth.Mode(strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))),
		JWT: auth.JWTOptions{
			Secret:    cfg.Auth.JWTSecret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			AccessTTL: config.Seconds(cfg.Auth.AccessTTLSeconds),
		},
	})
}

func webhookSecrets(s config.WebhookSecrets) webhook.Secrets {
	return webhook.Secrets{
		Stripe:              s.Stripe,
		Twilio:              s.Twilio,
		TelegramSecretToken: s.TelegramSecretToken,
		DiscordPublicKey:    s.DiscordPublicKey,
		WhatsApp:            s.WhatsApp,
		WhatsAppVerifyToken: s.WhatsAppVerifyToken,
		PinkSync:            s.PinkSync,
		April:               s.April,
		Insurance:           s.Insurance,
		Mux:                 s.Mux,
	}
}
