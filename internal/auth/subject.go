package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled         = errors.New("authentication disabled")
	ErrInvalidToken     = errors.New("invalid token")
	ErrMissingToken     = errors.New("missing bearer token")
	ErrPermissionDenied = errors.New("permission denied")
)

const (
	PermConnectorsRead  = "connectors:read"
	PermConnectorsWrite = "connectors:write"
	PermEventsRead      = "events:read"
)

// AllPermissions 是运维令牌默认携带的全部权限。
func AllPermissions() []string {
	return []string{PermConnectorsRead, PermConnectorsWrite, PermEventsRead}
}

// Mode 是认证方式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config 配置认证服务。
type Config struct {
	Mode Mode
	JWT  JWTOptions
}

// JWTOptions 是本地签发 HS256 令牌的参数。
type JWTOptions struct {
	Secret    string
	Issuer    string
	Audience  []string
	AccessTTL time.Duration
}

// Token 是签发给运维人员的 Bearer 令牌。
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Name        string
	Permissions []string
	ExpiresAt   time.Time

	granted map[string]bool
}

func newSubject(name string, perms []string, expires time.Time) *Subject {
	s := &Subject{Name: name, Permissions: perms, ExpiresAt: expires, granted: make(map[string]bool, len(perms))}
	for _, p := range perms {
		s.granted[canonicalPerm(p)] = true
	}
	return s
}

func canonicalPerm(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// HasPermission 判断主体是否持有权限，大小写不敏感。
func (s *Subject) HasPermission(perm string) bool {
	return s != nil && s.granted[canonicalPerm(perm)]
}

// Authorize 要求主体持有全部 perms，空字符串忽略。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, p := range perms {
		if p != "" && !s.HasPermission(p) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, p)
		}
	}
	return nil
}

type subjectKey struct{}

// SubjectFromContext 返回中间件放入上下文的主体，未认证时为 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

func contextWithSubject(ctx context.Context, subject *Subject) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}
