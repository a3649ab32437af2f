package eventlog

import (
	"strings"
	"time"
)

// ListOptions 控制日志查询的过滤条件。
type ListOptions struct {
	Limit    int
	Platform string
	Status   string
	Since    time.Time
}

// applyDefaults 规范化选项并填充默认值。
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	opts.Platform = strings.ToLower(strings.TrimSpace(opts.Platform))
	opts.Status = strings.ToLower(strings.TrimSpace(opts.Status))
}

// matches 判断记录是否满足过滤条件。
func (opts ListOptions) matches(e Entry) bool {
	if opts.Platform != "" && e.Platform != opts.Platform {
		return false
	}
	if opts.Status != "" && e.Status != opts.Status {
		return false
	}
	if !opts.Since.IsZero() && e.OccurredAt.Before(opts.Since) {
		return false
	}
	return true
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回条数，上限 100。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithPlatform 按平台过滤。
func WithPlatform(platform string) ListOption {
	return func(opts *ListOptions) {
		opts.Platform = platform
	}
}

// WithStatus 按结果状态过滤。
func WithStatus(status string) ListOption {
	return func(opts *ListOptions) {
		opts.Status = status
	}
}

// WithSince 只返回该时间点之后（含）的记录。
func WithSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		opts.Since = ts
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}
