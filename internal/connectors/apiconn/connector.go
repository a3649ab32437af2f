package apiconn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"DeafFirst-Hub/pkg/plugin"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 << 20
)

// Config 描述 REST 连接器的配置块。
type Config struct {
	BaseURL       string              `mapstructure:"base_url"`
	APIKey        string              `mapstructure:"api_key"`
	Headers       map[string]string   `mapstructure:"headers"`
	Timeout       time.Duration       `mapstructure:"timeout"`
	RatePerSecond float64             `mapstructure:"rate_per_second"`
	Burst         int                 `mapstructure:"burst"`
	Endpoints     map[string]Endpoint `mapstructure:"endpoints"`
}

// Endpoint 是命名接口的方法与路径模板，路径中的 {name} 由请求参数填充。
type Endpoint struct {
	Method string `mapstructure:"method"`
	Path   string `mapstructure:"path"`
}

// StatusError 表示上游返回了非 2xx 状态。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("上游返回错误状态 %d: %s", e.StatusCode, e.Body)
}

// Connector 通过 HTTP 调用配置的 REST 服务。
type Connector struct {
	preset     string
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New 根据配置创建连接器，配置的合法性由 ValidateConfig 检查。
func New(preset string, cfg Config) *Connector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Connector{
		preset:     preset,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c
}

// ValidateConfig 检查 base_url 与命名接口表。
func (c *Connector) ValidateConfig() error {
	raw := strings.TrimSpace(c.cfg.BaseURL)
	if raw == "" {
		return errors.New("base_url 不能为空")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url 必须是 http(s) 绝对地址: %q", raw)
	}
	if c.cfg.RatePerSecond < 0 {
		return errors.New("rate_per_second 不能为负数")
	}
	for name, ep := range c.cfg.Endpoints {
		if strings.TrimSpace(ep.Path) == "" {
			return fmt.Errorf("接口 %s 缺少 path", name)
		}
		if !validMethod(ep.Method) {
			return fmt.Errorf("接口 %s 的 method 不受支持: %q", name, ep.Method)
		}
	}
	if p, ok := presets[c.preset]; ok && p.requireEndpoints && len(c.cfg.Endpoints) == 0 {
		return fmt.Errorf("%s 连接器至少需要一个 endpoints 配置", c.preset)
	}
	return nil
}

// Endpoints 返回命名接口的名称。
func (c *Connector) Endpoints() map[string]Endpoint {
	out := make(map[string]Endpoint, len(c.cfg.Endpoints))
	for k, v := range c.cfg.Endpoints {
		out[k] = v
	}
	return out
}

// Call 发起一次 HTTP 调用并解析 JSON 响应，空响应体返回空对象。
func (c *Connector) Call(ctx context.Context, req plugin.APIRequest) (*plugin.APIResponse, error) {
	method, path, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("等待限流令牌失败: %w", err)
		}
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, req.Query), body)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", c.preset, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	decoded := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("解析响应失败: %w", err)
		}
		if obj, ok := payload.(map[string]any); ok {
			decoded = obj
		} else {
			decoded["data"] = payload
		}
	}
	return &plugin.APIResponse{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: decoded}, nil
}

func (c *Connector) resolve(req plugin.APIRequest) (string, string, error) {
	method, path := req.Method, req.Path
	if req.Endpoint != "" {
		ep, ok := c.cfg.Endpoints[req.Endpoint]
		if !ok {
			return "", "", fmt.Errorf("%w: 未知接口 %q", plugin.ErrInvalidRequest, req.Endpoint)
		}
		method, path = ep.Method, ep.Path
	}
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if !validMethod(method) {
		return "", "", fmt.Errorf("%w: 不支持的方法 %q", plugin.ErrInvalidRequest, method)
	}
	for k, v := range req.Params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	if strings.Contains(path, "{") {
		return "", "", fmt.Errorf("%w: 路径参数未填充: %s", plugin.ErrInvalidRequest, path)
	}
	return method, path, nil
}

func (c *Connector) buildURL(path string, query map[string]string) string {
	target := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) == 0 {
		return target
	}
	values := url.Values{}
	for k, v := range query {
		values.Set(k, v)
	}
	return target + "?" + values.Encode()
}

func validMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "", http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

var _ plugin.APIConnector = (*Connector)(nil)
