package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/usbsas/internal/metrics"
	"github.com/marmos91/usbsas/internal/privileges"
	"github.com/marmos91/usbsas/internal/tokencache"
	"github.com/marmos91/usbsas/pkg/audit"
	"github.com/marmos91/usbsas/pkg/config"
	"github.com/marmos91/usbsas/pkg/orchestrator"
)

// Manager tracks every live Session the front-end has created, backing the
// admin session-listing/force-teardown surface. A single
// physical pipeline is still single-tenant; Manager lets an operator run several independent pipelines —
// and see all of them — from one front-end process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	cfg     *config.Config
	resolve orchestrator.BinaryResolver
	dropper privileges.Dropper
	cache   *tokencache.Cache
	audit   *audit.Store
}

// NewManager returns an empty Manager that spawns new Sessions with resolve
// and dropper. cache and store may both be nil (TokenCache.Dir unconfigured,
// or audit trail recording disabled respectively).
func NewManager(cfg *config.Config, resolve orchestrator.BinaryResolver, dropper privileges.Dropper, cache *tokencache.Cache, store *audit.Store) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		resolve:  resolve,
		dropper:  dropper,
		cache:    cache,
		audit:    store,
	}
}

// Create spawns a new Session's worker pipeline and registers it.
func (m *Manager) Create() (*Session, error) {
	s, err := New(m.cfg, m.resolve, m.dropper, m.cache, m.audit)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()
	metrics.SetActiveSessions(count)
	return s, nil
}

// Get returns the session with the given id, or false if not found.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Summary is the admin-facing shape of one tracked session.
type Summary struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// List returns a Summary for every tracked session.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		out = append(out, Summary{ID: s.id, State: string(s.machine.State()), CreatedAt: s.createdAt})
		s.mu.Unlock()
	}
	return out
}

// Terminate force-tears-down and unregisters the named session, for the
// admin surface's force-teardown operation.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown session %s", id)
	}
	s.Close()
	metrics.SetActiveSessions(count)
	return nil
}

// Reset resets the named session's pipeline and re-keys it under the fresh session id Reset generates.
func (m *Manager) Reset(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session: unknown session %s", id)
	}

	if err := s.Reset(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Count returns the number of tracked sessions, used by the readiness probe.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AuditHistory returns the sessionID's persisted operation history, for the
// admin surface's per-session detail view. Returns an
// empty slice, not an error, if no audit store is configured.
func (m *Manager) AuditHistory(ctx context.Context, sessionID string) ([]audit.Record, error) {
	if m.audit == nil {
		return nil, nil
	}
	return m.audit.ForSession(ctx, sessionID)
}

// RecentActivity returns the most recent limit audit records across every
// session, for the admin surface's global activity feed. Returns an empty
// slice, not an error, if no audit store is configured.
func (m *Manager) RecentActivity(ctx context.Context, limit int) ([]audit.Record, error) {
	if m.audit == nil {
		return nil, nil
	}
	return m.audit.Recent(ctx, limit)
}
