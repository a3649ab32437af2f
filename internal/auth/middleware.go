package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Rule 按 HTTP 方法列出所需权限，"*" 匹配其余方法。
type Rule map[string][]string

func (r Rule) perms(method string) []string {
	if perms, ok := r[method]; ok {
		return perms
	}
	return r["*"]
}

// Guard 校验 Bearer 令牌与权限，并把每次请求写入审计日志。认证关闭时直接放行。
func (s *Service) Guard(event string, rule Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Mode() == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}
			reject := func(status int, reason string, err error, attrs ...slog.Attr) {
				http.Error(w, http.StatusText(status), status)
				attrs = append(attrs,
					slog.String("event", event),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", status),
					slog.String("error", err.Error()),
				)
				s.audit.LogAttrs(r.Context(), slog.LevelWarn, reason, attrs...)
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				reject(http.StatusUnauthorized, "access_denied", err)
				return
			}
			if err := subject.Authorize(rule.perms(r.Method)...); err != nil {
				reject(http.StatusForbidden, "permission_denied", err, slog.String("subject", subject.Name))
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(contextWithSubject(r.Context(), subject)))
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.audit.Info("api_request",
				slog.String("event", event),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("subject", subject.Name),
			)
		})
	}
}
