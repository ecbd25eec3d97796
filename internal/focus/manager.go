package focus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Closer is called with a reason when a registered controller is displaced.
type Closer func(reason string)

type registration struct {
	ctrl  *Controller
	close Closer
}

// Manager keeps at most one live controller per user.
type Manager struct {
	mu     sync.RWMutex
	active map[string]registration
	logger *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		active: make(map[string]registration),
		logger: logger,
	}
}

// Get returns the live controller for userID, or nil.
func (m *Manager) Get(userID string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID].ctrl
}

// Register makes ctrl the live controller for userID. A previous controller
// is stopped and its closer is told the session was replaced.
func (m *Manager) Register(ctx context.Context, userID string, ctrl *Controller, closer Closer) {
	m.mu.Lock()
	existing, exists := m.active[userID]
	m.active[userID] = registration{ctrl: ctrl, close: closer}
	m.mu.Unlock()

	if exists && existing.ctrl != ctrl {
		m.displace(ctx, userID, existing, "session replaced")
	}
	m.logger.Info("Focus controller registered", "user_id", userID)
}

// Unregister removes ctrl if it is still the live controller for userID.
func (m *Manager) Unregister(userID string, ctrl *Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[userID]; ok && current.ctrl == ctrl {
		delete(m.active, userID)
		m.logger.Info("Focus controller unregistered", "user_id", userID)
	}
}

// Count returns the number of registered controllers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Monitoring returns the number of controllers with a running session.
func (m *Manager) Monitoring() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, reg := range m.active {
		if reg.ctrl.State() == StateMonitoring {
			n++
		}
	}
	return n
}

// CloseAll stops every controller, finalizing running sessions.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	regs := m.active
	m.active = make(map[string]registration)
	m.mu.Unlock()

	var errs []error
	for userID, reg := range regs {
		if err := m.displace(ctx, userID, reg, "server shutting down"); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) displace(ctx context.Context, userID string, reg registration, reason string) error {
	err := reg.ctrl.Stop(ctx)
	if err != nil {
		m.logger.Error("Failed to stop displaced controller", "user_id", userID, "error", err)
	}
	if reg.close != nil {
		reg.close(reason)
	}
	m.logger.Info("Focus controller closed", "user_id", userID, "reason", reason)
	return err
}
