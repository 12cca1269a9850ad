package subscription

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds every manager command.
const DefaultTimeout = 30 * time.Second

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager)

// WithCatalog replaces the default plan catalog.
func WithCatalog(c *Catalog) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.catalog = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithTimeout bounds each command and, separately, the refetch that follows
// a mutation. Non-positive values are ignored.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithNotifier sets where success and failure notices go.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}
