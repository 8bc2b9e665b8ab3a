package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore 以内存方式保存支付日志，主要用于测试与单机运行。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Record 实现 Store 接口。
func (m *MemoryStore) Record(_ context.Context, entry Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.entries[entry.SessionID]; ok {
		entry.CreatedAt = existing.CreatedAt
	} else if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	m.entries[entry.SessionID] = entry
	return nil
}

// Get 返回指定会话的日志。
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[sessionID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &entry, nil
}

// List 按更新时间倒序返回最近的日志。
func (m *MemoryStore) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.sorted(func(Entry) bool { return true })
	if limit = normalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Unpaid 返回提交成功但未结清费用的会话。
func (m *MemoryStore) Unpaid(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(Entry.Unpaid), nil
}

func (m *MemoryStore) sorted(keep func(Entry) bool) []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		if keep(entry) {
			out = append(out, entry)
		}
	}
	sortByUpdated(out)
	return out
}

func sortByUpdated(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].SessionID > entries[j].SessionID
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}

// Close 无需释放资源。
func (m *MemoryStore) Close() error { return nil }
