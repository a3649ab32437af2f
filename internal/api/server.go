package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"DeafFirst-Hub/internal/auth"
	"DeafFirst-Hub/internal/command"
	"DeafFirst-Hub/internal/eventlog"
	"DeafFirst-Hub/internal/observability/metrics"
	"DeafFirst-Hub/internal/webhook"
	"DeafFirst-Hub/pkg/logger"
	"DeafFirst-Hub/pkg/plugin"
)

const defaultMaxBodyBytes = 1 << 20

// Server 暴露 Webhook 入口、命令接口与管理接口。
type Server struct {
	addr            string
	publicURL       string
	dispatcher      *webhook.Dispatcher
	router          *command.Router
	registry        *plugin.Registry
	events          eventlog.Reader
	auth            *auth.Service
	maxBodyBytes    int64
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Option 修改服务配置。
type Option func(*Server)

// WithCommandRouter 设置 /api/v1/commands 使用的命令路由。
func WithCommandRouter(r *command.Router) Option {
	return func(s *Server) {
		s.router = r
	}
}

// WithRegistry 设置管理接口操作的连接器注册表。
func WithRegistry(r *plugin.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// WithEventReader 设置分发日志查询端。
func WithEventReader(r eventlog.Reader) Option {
	return func(s *Server) {
		s.events = r
	}
}

// WithAuth 设置管理接口的认证服务，为 nil 时管理接口不做认证。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithPublicURL 设置提供方看到的外部地址，用于计算回调签名。
func WithPublicURL(u string) Option {
	return func(s *Server) {
		s.publicURL = u
	}
}

// WithMaxBodyBytes 限制请求体大小。
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithRequestTimeout 限制单个请求的处理时间。
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, d *webhook.Dispatcher, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		dispatcher:      d,
		maxBodyBytes:    defaultMaxBodyBytes,
		requestTimeout:  30 * time.Second,
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.router == nil {
		s.router = command.NewRouter()
	}
	return s
}

// Handler 返回完整的路由树。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Get("/status", s.handleWebhookStatus)
		r.Get("/test", s.handleWebhookTest)
		r.Get("/whatsapp", s.handleChallenge)
		r.Post("/{platform}", s.handleWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/commands", s.handleCommand)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Guard("connectors", auth.Rule{
				http.MethodGet: {auth.PermConnectorsRead},
				"*":            {auth.PermConnectorsWrite},
			}))
			r.Get("/connectors", s.handleListConnectors)
			r.Patch("/connectors/{type}/{name}", s.handleSetConnectorEnabled)
			r.Delete("/connectors/{type}/{name}", s.handleUnregisterConnector)
			r.Post("/connectors/{type}/{name}/execute", s.handleExecuteConnector)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Guard("events", auth.Rule{"*": {auth.PermEventsRead}}))
			r.Get("/events", s.handleListEvents)
			r.Get("/events/stats", s.handleEventStats)
		})
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", slog.String("address", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// instrument 记录每个路由的请求耗时与状态码。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ObserveHTTPRequest(route, r.Method, status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
