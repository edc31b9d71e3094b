package prefs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/docsum/workbench/internal/models"
)

// MemoryStore is a ThemeStore and Journal that lives only as long as the
// process. The CLI falls back to it when the database is locked by a
// running server.
type MemoryStore struct {
	mu      sync.Mutex
	theme   models.Theme
	entries []SubmissionEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{theme: models.DefaultTheme}
}

func (m *MemoryStore) LoadTheme(context.Context) (models.Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.theme, nil
}

func (m *MemoryStore) SaveTheme(_ context.Context, t models.Theme) error {
	if _, ok := models.ParseTheme(string(t)); !ok {
		return fmt.Errorf("invalid theme %q", t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.theme = t
	return nil
}

func (m *MemoryStore) RecordSubmission(_ context.Context, e SubmissionEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryStore) RecentSubmissions(_ context.Context, limit int) ([]SubmissionEntry, error) {
	m.mu.Lock()
	out := append([]SubmissionEntry(nil), m.entries...)
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ ThemeStore = (*MemoryStore)(nil)
	_ Journal    = (*MemoryStore)(nil)
	_ ThemeStore = (*DuckStore)(nil)
	_ Journal    = (*DuckStore)(nil)
)
