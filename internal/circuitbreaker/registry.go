package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds one Breaker per target key. Lookups never take a lock
// shared across targets.
type Registry struct {
	config   Config
	breakers sync.Map // key -> *Breaker
}

// NewRegistry creates a registry whose breakers share config.
func NewRegistry(config Config) *Registry {
	config.SetDefaults()
	return &Registry{config: config}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	if b, ok := r.breakers.Load(key); ok {
		return b.(*Breaker)
	}
	b, _ := r.breakers.LoadOrStore(key, New(key, r.config))
	return b.(*Breaker)
}

// Snapshot returns stats for every known breaker, sorted by name.
func (r *Registry) Snapshot() []Stats {
	var out []Stats
	r.breakers.Range(func(_, v any) bool {
		out = append(out, v.(*Breaker).GetStats())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
