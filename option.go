package rally

import (
	"github.com/arenalabs/rally/storage"
)

// Option configures an App at construction time, after the env config has
// loaded.
type Option func(*App)

// WithStore replaces the redis-backed store, e.g. with an in-memory fake.
func WithStore(store storage.Store) Option {
	return func(a *App) {
		a.store = store
	}
}

// WithPort overrides RALLY_PORT.
func WithPort(port string) Option {
	return func(a *App) {
		a.cfg.RallyPort = port
	}
}

// WithNamespace overrides RALLY_NAMESPACE, isolating this instance's keys in
// a shared redis.
func WithNamespace(namespace string) Option {
	return func(a *App) {
		a.cfg.RallyNamespace = namespace
	}
}
