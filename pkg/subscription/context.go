package subscription

import "context"

type managerCtxKey struct{}

// WithManager stores a session's manager in ctx.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerCtxKey{}, m)
}

// ManagerFromContext returns the manager stored by WithManager.
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerCtxKey{}).(*Manager)
	return m, ok && m != nil
}
