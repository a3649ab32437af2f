package eventlog

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryCapacity = 1000

// MemorySink 在内存环形缓冲区中保存最近的分发记录，可供管理接口查询。
type MemorySink struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewMemorySink 创建容量为 capacity 的 MemorySink，非正数使用默认容量。
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemorySink{entries: make([]Entry, capacity)}
}

// Name 实现 Sink。
func (m *MemorySink) Name() string { return "memory" }

// Append 写入记录，缓冲区满时覆盖最旧的一条。
func (m *MemorySink) Append(_ context.Context, entry Entry) error {
	entry.normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = entry
	m.next = (m.next + 1) % len(m.entries)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// List 按时间倒序返回满足条件的记录。
func (m *MemorySink) List(_ context.Context, opts ...ListOption) ([]Entry, error) {
	options := buildListOptions(opts)
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, options.Limit)
	m.walkNewest(func(e Entry) bool {
		if options.matches(e) {
			out = append(out, e)
		}
		return len(out) < options.Limit
	})
	return out, nil
}

// Stats 统计 since 之后的记录，零值表示统计全部。
func (m *MemorySink) Stats(_ context.Context, since time.Time) (Stats, error) {
	stats := newStats()
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.walkNewest(func(e Entry) bool {
		if !since.IsZero() && e.OccurredAt.Before(since) {
			return true
		}
		ts := e.OccurredAt.Unix()
		stats.add(e.Platform, e.Status, e.Duplicate, 1, ts, ts)
		return true
	})
	return stats, nil
}

// Len 返回当前保存的记录数。
func (m *MemorySink) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.entries)
	}
	return m.next
}

// Close 实现 Sink。
func (m *MemorySink) Close() error { return nil }

func (m *MemorySink) walkNewest(fn func(Entry) bool) {
	size := m.next
	if m.full {
		size = len(m.entries)
	}
	for i := 0; i < size; i++ {
		idx := (m.next - 1 - i + len(m.entries)) % len(m.entries)
		if !fn(m.entries[idx]) {
			return
		}
	}
}
