// Package session keeps one Workbench per browser or terminal user.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/docsum/workbench/internal/logging"
	"github.com/docsum/workbench/internal/models"
	"github.com/google/uuid"
)

// MaxSessions limits concurrent workbenches to prevent memory exhaustion
const MaxSessions = 64

// SessionMaxAge is how long an idle workbench is kept before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep workbenches that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// ManagerOptions configures a Manager. Zero values fall back to the constants above.
type ManagerOptions struct {
	MaxSessions int
	KeepAlive   time.Duration
}

// Manager owns the active workbenches.
type Manager struct {
	deps        Deps
	logger      *slog.Logger
	maxSessions int
	keepAlive   time.Duration

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	wb           *Workbench
	createdAt    time.Time
	lastAccessed time.Time
}

// NewManager creates a session manager. Theme changes on deps.App are
// pushed to every live workbench.
func NewManager(deps Deps, opts ManagerOptions) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = MaxSessions
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = SessionKeepAliveWindow
	}
	m := &Manager{
		deps:        deps,
		logger:      logging.OrDefault(deps.Logger).With("component", "session_manager"),
		maxSessions: opts.MaxSessions,
		keepAlive:   opts.KeepAlive,
		sessions:    make(map[string]*entry),
	}
	if deps.App != nil {
		deps.App.OnChange(func(models.Theme) { m.refreshAll() })
	}
	return m
}

// GetOrCreate returns the workbench for id, creating one when id is empty
// or unknown. The returned workbench is marked as accessed.
func (m *Manager) GetOrCreate(id string) *Workbench {
	if id != "" {
		m.mu.Lock()
		if e, ok := m.sessions[id]; ok {
			e.lastAccessed = time.Now()
			m.mu.Unlock()
			return e.wb
		}
		m.mu.Unlock()
	} else {
		id = uuid.New().String()
	}

	m.cleanupOldSessionsIfNeeded()

	wb := NewWorkbench(id, m.deps)
	now := time.Now()

	m.mu.Lock()
	if e, ok := m.sessions[id]; ok {
		// created concurrently
		m.mu.Unlock()
		return e.wb
	}
	m.sessions[id] = &entry{wb: wb, createdAt: now, lastAccessed: now}
	n := len(m.sessions)
	m.mu.Unlock()

	m.deps.Metrics.SetActiveSessions(n)
	m.logger.Info("session_created", "session_id", id, "active", n)
	return wb
}

// Get returns a workbench by ID.
func (m *Manager) Get(id string) (*Workbench, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.wb, true
}

// Touch updates the last-access time so the workbench survives cleanup.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return false
	}
	e.lastAccessed = time.Now()
	return true
}

// Count returns the number of live workbenches.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions removes workbenches idle for longer than maxAge,
// but keeps those accessed within the keep-alive window and those loading.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-m.keepAlive)

	var removed []*Workbench
	m.mu.Lock()
	for id, e := range m.sessions {
		if e.lastAccessed.After(keepAliveCutoff) || e.wb.Busy() {
			continue
		}
		if e.lastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, e.wb)
			m.logger.Info("session_expired", "session_id", id,
				"idle", now.Sub(e.lastAccessed).Round(time.Second).String())
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, wb := range removed {
		wb.Close()
	}
	if len(removed) > 0 {
		m.deps.Metrics.SetActiveSessions(n)
	}
	return len(removed)
}

// Run cleans up expired workbenches every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = SessionMaxAge
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}

// Close waits for in-flight work and closes every workbench.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Workbench, 0, len(m.sessions))
	for id, e := range m.sessions {
		all = append(all, e.wb)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, wb := range all {
		wb.Close()
	}
	m.deps.Metrics.SetActiveSessions(0)
}

// cleanupOldSessionsIfNeeded evicts the least recently used idle workbench
// when at capacity. Loading workbenches are never evicted.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	if len(m.sessions) < m.maxSessions {
		m.mu.Unlock()
		return
	}

	type candidate struct {
		id   string
		seen time.Time
	}
	var idle []candidate
	for id, e := range m.sessions {
		if !e.wb.Busy() {
			idle = append(idle, candidate{id: id, seen: e.lastAccessed})
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].seen.Before(idle[j].seen) })

	toFree := len(m.sessions) - m.maxSessions + 1
	var evicted []*Workbench
	for _, c := range idle {
		if len(evicted) >= toFree {
			break
		}
		evicted = append(evicted, m.sessions[c.id].wb)
		delete(m.sessions, c.id)
		m.logger.Info("session_evicted", "session_id", c.id)
	}
	if len(evicted) < toFree {
		m.logger.Warn("session_limit_exceeded", "active", len(m.sessions), "max", m.maxSessions)
	}
	m.mu.Unlock()

	for _, wb := range evicted {
		wb.Close()
	}
}

func (m *Manager) refreshAll() {
	m.mu.RLock()
	all := make([]*Workbench, 0, len(m.sessions))
	for _, e := range m.sessions {
		all = append(all, e.wb)
	}
	m.mu.RUnlock()

	for _, wb := range all {
		wb.Refresh()
	}
}
