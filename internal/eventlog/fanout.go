package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"DeafFirst-Hub/pkg/logger"
)

// FailureObserver 在某个 Sink 写入失败时被调用。
type FailureObserver func(sink string)

// Fanout 将记录写入多个 Sink，单个 Sink 失败不影响其他 Sink。
type Fanout struct {
	sinks    []Sink
	observer FailureObserver
}

// FanoutOption 配置 Fanout。
type FanoutOption func(*Fanout)

// WithFailureObserver 设置写入失败回调，通常用于指标统计。
func WithFailureObserver(o FailureObserver) FanoutOption {
	return func(f *Fanout) {
		f.observer = o
	}
}

// NewFanout 创建 Fanout，忽略 nil Sink。
func NewFanout(sinks []Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Name 实现 Sink。
func (f *Fanout) Name() string { return "fanout" }

// Append 为记录分配统一 ID 后写入全部 Sink。
func (f *Fanout) Append(ctx context.Context, entry Entry) error {
	if f == nil {
		return nil
	}
	entry.normalize()
	var errs []error
	for _, s := range f.sinks {
		if err := s.Append(ctx, entry); err != nil {
			logger.Named("eventlog").Warn("写入分发日志失败",
				slog.String("sink", s.Name()),
				slog.String("event_id", entry.EventID),
				slog.Any("error", err),
			)
			if f.observer != nil {
				f.observer(s.Name())
			}
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Reader 返回第一个支持查询的 Sink。
func (f *Fanout) Reader() (Reader, bool) {
	if f == nil {
		return nil, false
	}
	for _, s := range f.sinks {
		if r, ok := s.(Reader); ok {
			return r, true
		}
	}
	return nil, false
}

// Close 关闭全部 Sink。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
