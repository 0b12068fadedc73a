// Package registry maps client API keys to application policies.
package registry

import (
	"time"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

// Registry is a read-only lookup from API key to Application. It is built
// once at startup and is safe for concurrent use without locking.
type Registry struct {
	byKey map[string]*model.Application
	apps  []*model.Application
}

// New builds a Registry from the configured applications. Keys are unique
// (enforced by config validation); if they were not, the first entry wins.
func New(cfg *config.Config) *Registry {
	r := &Registry{
		byKey: make(map[string]*model.Application, len(cfg.Applications)),
		apps:  make([]*model.Application, 0, len(cfg.Applications)),
	}
	for _, ac := range cfg.Applications {
		app := fromConfig(ac)
		r.apps = append(r.apps, app)
		if _, exists := r.byKey[app.Key]; !exists {
			r.byKey[app.Key] = app
		}
	}
	return r
}

func fromConfig(ac config.ApplicationConfig) *model.Application {
	timeout := ac.Timeout
	if timeout <= 0 {
		timeout = config.DefaultApplicationTimeoutMs
	}

	var ttl time.Duration
	if ac.CacheTimeout != nil && *ac.CacheTimeout > 0 {
		ttl = time.Duration(*ac.CacheTimeout) * time.Second
	}

	return &model.Application{
		ID:       ac.ID,
		Name:     ac.Name,
		Key:      ac.Key,
		Timeout:  time.Duration(timeout) * time.Millisecond,
		Accept:   append([]string(nil), ac.Accept...),
		CacheTTL: ttl,
	}
}

// Lookup returns the application owning key. An empty key never matches.
func (r *Registry) Lookup(key string) (*model.Application, bool) {
	if key == "" {
		return nil, false
	}
	app, ok := r.byKey[key]
	return app, ok
}

// Len returns the number of registered applications.
func (r *Registry) Len() int {
	return len(r.apps)
}
