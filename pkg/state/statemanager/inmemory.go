package statemanager

import (
	"log/slog"
	"sync"

	"github.com/a-essam23/chatrelay/pkg/state"
	"github.com/google/uuid"
)

type InMemoryRegistry struct {
	users map[int64]map[uuid.UUID]state.Conn
	total int
	mu    sync.RWMutex

	logger *slog.Logger
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		users:  make(map[int64]map[uuid.UUID]state.Conn),
		logger: logger.With(slog.String("component", "session_registry")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ state.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) Add(userID int64, conn state.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.users[userID]
	if !ok {
		set = make(map[uuid.UUID]state.Conn)
		m.users[userID] = set
		m.logger.Debug("Created new user session", slog.Int64("userID", userID))
	}
	if _, exists := set[conn.ID()]; !exists {
		m.total++
	}
	set[conn.ID()] = conn
	m.logger.Debug("Connection registered", slog.Int64("userID", userID), slog.String("connID", conn.ID().String()))
}

func (m *InMemoryRegistry) Remove(userID int64, conn state.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.users[userID]
	if !ok {
		return
	}
	if _, exists := set[conn.ID()]; !exists {
		// already deregistered
		return
	}
	delete(set, conn.ID())
	m.total--
	if len(set) == 0 {
		delete(m.users, userID)
		m.logger.Debug("Removed empty user session", slog.Int64("userID", userID))
	}
	m.logger.Debug("Connection deregistered", slog.Int64("userID", userID), slog.String("connID", conn.ID().String()))
}

func (m *InMemoryRegistry) Get(userID int64) []state.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.users[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]state.Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryRegistry) Count(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users[userID])
}

func (m *InMemoryRegistry) FindOldest(userID int64) (state.Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest state.Conn
	for _, c := range m.users[userID] {
		if oldest == nil || c.CreatedAt().Before(oldest.CreatedAt()) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

func (m *InMemoryRegistry) Users() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

func (m *InMemoryRegistry) Connections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

func (m *InMemoryRegistry) All() []state.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]state.Conn, 0, m.total)
	for _, set := range m.users {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}
