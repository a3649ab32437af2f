package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"DeafFirst-Hub/internal/command"
	xerrors "DeafFirst-Hub/internal/errors"
	"DeafFirst-Hub/internal/eventlog"
	"DeafFirst-Hub/internal/observability/alerting"
	"DeafFirst-Hub/pkg/logger"
)

// Observer 接收每次分发的结果，通常用于指标统计。
type Observer func(platform, status, code string, duplicate bool, elapsed time.Duration)

// Config 描述分发器的校验与去重参数。
type Config struct {
	Secrets Secrets
	// AllowUnverified 列出跳过校验的平台，仅用于开发环境。
	AllowUnverified    []string
	SignatureTolerance time.Duration
	DedupTTL           time.Duration
	// ProcessingLease 是处理中标记的租期，超过 DedupTTL 时取 DedupTTL。
	ProcessingLease time.Duration
	// ASLConnector 是处理 asl_interpretation_requested 事件的 ASL 连接器名。
	ASLConnector string
}

// Dispatcher 按 校验 → 规范化 → 去重 → 处理 → 记录 的顺序处理入站 Webhook。
type Dispatcher struct {
	verifiers   map[Platform]Verifier
	handlers    map[Platform]Handler
	overrides   map[Platform]Handler
	verifyToken string

	store    IdempotencyStore
	group    singleflight.Group
	dedupTTL time.Duration
	lease    time.Duration

	router       *command.Router
	executor     command.Executor
	aslConnector string
	senders      map[Platform]Sender
	sendTimeout  time.Duration

	sink          eventlog.Sink
	appendTimeout time.Duration
	alerts        alerting.Notifier
	observer      Observer
	logger        *slog.Logger
	now           func() time.Time
}

// Option 修改分发器配置。
type Option func(*Dispatcher)

// WithRouter 设置聊天渠道使用的命令路由。
func WithRouter(r *command.Router) Option {
	return func(d *Dispatcher) {
		d.router = r
	}
}

// WithExecutor 设置连接器执行器，通常为 plugin.Registry。
func WithExecutor(e command.Executor) Option {
	return func(d *Dispatcher) {
		d.executor = e
	}
}

// WithIdempotencyStore 替换默认的进程内去重存储。
func WithIdempotencyStore(s IdempotencyStore) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.store = s
		}
	}
}

// WithEventSink 设置分发日志的写入端。
func WithEventSink(s eventlog.Sink) Option {
	return func(d *Dispatcher) {
		d.sink = s
	}
}

// WithAlerts 设置告警分发器。
func WithAlerts(a alerting.Notifier) Option {
	return func(d *Dispatcher) {
		d.alerts = a
	}
}

// WithSender 为平台设置回复发送器。
func WithSender(p Platform, s Sender) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.senders[p] = s
		}
	}
}

// WithHandler 覆盖平台处理器。
func WithHandler(p Platform, h Handler) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.overrides[p] = h
		}
	}
}

// WithObserver 设置分发结果回调。
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithLogger 设置日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock 替换时间源，用于测试签名时间窗口。
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithSendTimeout 限制单次渠道回复的耗时。
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// WithAppendTimeout 限制单次分发日志写入的耗时。
func WithAppendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.appendTimeout = timeout
		}
	}
}

// NewDispatcher 创建分发器。未配置校验材料的平台一律拒绝。
func NewDispatcher(cfg Config, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		overrides:     make(map[Platform]Handler),
		senders:       make(map[Platform]Sender),
		verifyToken:   cfg.Secrets.WhatsAppVerifyToken,
		store:         NewMemoryIdempotencyStore(),
		dedupTTL:      cfg.DedupTTL,
		lease:         cfg.ProcessingLease,
		aslConnector:  cfg.ASLConnector,
		sendTimeout:   defaultSendTimeout,
		appendTimeout: 2 * time.Second,
		logger:        logger.Named("webhook"),
		now:           time.Now,
	}
	if d.dedupTTL <= 0 {
		d.dedupTTL = DefaultDedupTTL
	}
	if d.lease <= 0 {
		d.lease = DefaultProcessingLease
	}
	d.lease = min(d.lease, d.dedupTTL)
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.router == nil {
		d.router = command.NewRouter()
	}

	allow := make(map[Platform]bool, len(cfg.AllowUnverified))
	for _, raw := range cfg.AllowUnverified {
		p, ok := ParsePlatform(raw)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("allow_unverified 包含未知平台 %q", raw))
		}
		allow[p] = true
	}
	verifiers, err := buildVerifiers(cfg.Secrets, allow, cfg.SignatureTolerance, d.now)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 Webhook 校验器失败")
	}
	d.verifiers = verifiers

	d.handlers = d.defaultHandlers()
	for p, h := range d.overrides {
		d.handlers[p] = h
	}
	return d, nil
}

// Dispatch 处理一次入站 Webhook，始终返回结构完整的结果。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res Result) {
	start := d.now()
	ctx, span := otel.Tracer("DeafFirst-Hub/internal/webhook").Start(ctx, "webhook.Dispatch")
	defer span.End()

	platform, ok := ParsePlatform(req.Platform)
	label := string(platform)
	if !ok {
		label = "unknown"
	}
	span.SetAttributes(attribute.String("webhook.platform", label))

	eventID := uuid.NewString()
	var ev Event
	defer func() {
		if res.EventID == "" {
			res.EventID = eventID
		}
		if res.EventType == "" {
			res.EventType = ev.Type
		}
		if res.UserID == "" {
			res.UserID = ev.UserID
		}
		d.finish(ctx, span, label, res, d.now().Sub(start))
	}()

	if !ok {
		return failure(xerrors.New(xerrors.CodeUnsupportedPlatform, "Unsupported platform: "+req.Platform))
	}

	verifier, ok := d.verifiers[platform]
	if !ok {
		verifier = failClosed(platform)
	}
	if err := verifier.Verify(req); err != nil {
		reason := ""
		if xe, ok := xerrors.From(err); ok {
			reason = xe.Metadata()["reason"]
		}
		d.logger.Warn("Webhook 校验失败", slog.String("platform", label), slog.String("reason", reason))
		return failure(err)
	}

	var err error
	ev, err = normalize(platform, req)
	if err != nil {
		return failure(err)
	}

	handler, ok := d.handlers[platform]
	if !ok {
		return failure(xerrors.New(xerrors.CodeUnsupportedPlatform, "Unsupported platform: "+req.Platform))
	}
	key := dedupKey(platform, ev, req.Payload)
	return d.deduplicate(ctx, key, func() Result {
		out := d.invoke(ctx, platform, handler, ev)
		out.EventID = eventID
		out.EventType = ev.Type
		out.UserID = ev.UserID
		return out
	})
}

// invoke 执行处理器并将错误与 panic 转换为错误结果。
func (d *Dispatcher) invoke(ctx context.Context, platform Platform, h Handler, ev Event) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("Webhook 处理器 panic",
				slog.String("platform", string(platform)),
				slog.String("event_type", ev.Type),
				slog.String("delivery_id", ev.DeliveryID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			res = failure(xerrors.New(xerrors.CodeDispatchInternal,
				xerrors.CodeDispatchInternal.Attributes().Message,
				xerrors.WithMetadata("panic", fmt.Sprint(rec)),
			))
		}
	}()

	out, err := h(ctx, ev)
	if err != nil {
		d.logger.Error("Webhook 处理失败",
			slog.String("platform", string(platform)),
			slog.String("event_type", ev.Type),
			slog.String("delivery_id", ev.DeliveryID),
			slog.Any("error", err),
		)
		return failure(err)
	}
	if out.Status == "" {
		out.Status = StatusSuccess
	}
	if out.Code == 0 {
		out.Code = http.StatusOK
	}
	return out
}

// deduplicate 合并进程内的并发重复投递，并重放已完成投递的结果。
func (d *Dispatcher) deduplicate(ctx context.Context, key string, fn func() Result) Result {
	leader := false
	v, _, _ := d.group.Do(key, func() (any, error) {
		leader = true
		stored, reserved, err := d.store.Reserve(ctx, key, d.lease)
		if err != nil {
			d.logger.Warn("去重存储不可用，跳过去重", slog.String("key", key), slog.Any("error", err))
			return fn(), nil
		}
		if !reserved {
			if stored != nil {
				replay := *stored
				replay.Duplicate = true
				return replay, nil
			}
			return inFlight(), nil
		}

		out := fn()
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.appendTimeout)
		defer cancel()
		if out.Code >= http.StatusInternalServerError {
			err = d.store.Release(storeCtx, key)
		} else {
			if err = d.store.Complete(storeCtx, key, out, d.dedupTTL); err != nil {
				// 结果未能保存时释放标记，让重试重新处理而不是等待租期。
				err = errors.Join(err, d.store.Release(storeCtx, key))
			}
		}
		if err != nil {
			d.logger.Warn("更新去重存储失败", slog.String("key", key), slog.Any("error", err))
		}
		return out, nil
	})
	res := v.(Result)
	if !leader {
		res.Duplicate = true
	}
	return res
}

func inFlight() Result {
	return Result{
		Status:    StatusError,
		Message:   "Delivery is already being processed",
		Code:      http.StatusConflict,
		ErrorCode: xerrors.CodeConflict,
		Duplicate: true,
	}
}

// finish 记录日志、分发日志、指标、告警与追踪状态。
func (d *Dispatcher) finish(ctx context.Context, span trace.Span, platform string, res Result, elapsed time.Duration) {
	level := slog.LevelInfo
	if res.Failed() {
		level = slog.LevelWarn
	}
	d.logger.Log(ctx, level, "Webhook 分发完成",
		slog.String("platform", platform),
		slog.String("event_id", res.EventID),
		slog.String("event_type", res.EventType),
		slog.String("status", res.Status),
		slog.Int("code", res.Code),
		slog.String("error_code", string(res.ErrorCode)),
		slog.Bool("duplicate", res.Duplicate),
		slog.Duration("elapsed", elapsed),
	)

	entry := eventlog.Entry{
		EventID:    res.EventID,
		Platform:   platform,
		EventType:  res.EventType,
		Status:     res.Status,
		Code:       res.Code,
		ErrorCode:  string(res.ErrorCode),
		Message:    res.Message,
		UserID:     res.UserID,
		Duplicate:  res.Duplicate,
		DurationMS: elapsed.Milliseconds(),
		OccurredAt: d.now().UTC(),
	}
	if d.sink != nil {
		if err := eventlog.AppendDetached(ctx, d.sink, entry, d.appendTimeout); err != nil {
			d.logger.Warn("写入分发日志失败", slog.String("event_id", res.EventID), slog.Any("error", err))
		}
	}

	if d.observer != nil {
		d.observer(platform, res.Status, strconv.Itoa(res.Code), res.Duplicate, elapsed)
	}

	if res.ErrorCode != "" && res.ErrorCode.Attributes().Alert && d.alerts != nil {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.appendTimeout)
		defer cancel()
		err := d.alerts.Notify(alertCtx, alerting.Event{
			Code:       res.ErrorCode,
			Message:    res.Message,
			Severity:   res.ErrorCode.Attributes().Severity,
			Platform:   platform,
			EventID:    res.EventID,
			Metadata:   map[string]string{"event_type": res.EventType},
			OccurredAt: entry.OccurredAt,
		})
		if err != nil {
			d.logger.Warn("发送告警失败", slog.String("event_id", res.EventID), slog.Any("error", err))
		}
	}

	span.SetAttributes(
		attribute.String("webhook.event_type", res.EventType),
		attribute.Int("webhook.code", res.Code),
		attribute.Bool("webhook.duplicate", res.Duplicate),
	)
	if res.Failed() {
		span.SetStatus(codes.Error, string(res.ErrorCode))
	}
}

// Challenge 处理握手式 GET 校验：mode=subscribe 且校验令牌匹配时回显 challenge。
func (d *Dispatcher) Challenge(platform string, query url.Values) (string, error) {
	p, ok := ParsePlatform(platform)
	if !ok || p != PlatformWhatsApp {
		return "", xerrors.New(xerrors.CodeUnsupportedPlatform, "Unsupported platform: "+platform)
	}
	mode := firstNonEmpty(query.Get("hub.mode"), query.Get("mode"))
	token := firstNonEmpty(query.Get("hub.verify_token"), query.Get("verify_token"))
	challenge := firstNonEmpty(query.Get("hub.challenge"), query.Get("challenge"))
	if mode != "subscribe" {
		return "", rejected("握手 mode 不是 subscribe")
	}
	if d.verifyToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(d.verifyToken)) != 1 {
		return "", rejected("握手校验令牌不匹配")
	}
	return challenge, nil
}
