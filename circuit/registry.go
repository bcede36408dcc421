package circuit

import (
	"sync"
	"time"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultHalfOpenRequests = 1
)

// Registry objects hold the breakers of the stores, ensure synchronized access to them and apply the default
// settings.
type Registry struct {
	defaults      BreakerSettings
	storeSettings map[string]BreakerSettings
	lookup        map[string]*Breaker
	mx            sync.Mutex
}

// NewRegistry initializes a registry with the provided settings. Settings with an empty Store field are
// considered as defaults. Settings with the same Store field are merged together.
func NewRegistry(settings ...BreakerSettings) *Registry {
	var defaults BreakerSettings
	ss := make(map[string]BreakerSettings)
	for _, s := range settings {
		if s.Store == "" {
			defaults = defaults.mergeSettings(s)
			continue
		}

		if prev, ok := ss[s.Store]; ok {
			ss[s.Store] = s.mergeSettings(prev)
		} else {
			ss[s.Store] = s
		}
	}

	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}

	if defaults.HalfOpenRequests <= 0 {
		defaults.HalfOpenRequests = DefaultHalfOpenRequests
	}

	for k, s := range ss {
		ss[k] = s.mergeSettings(defaults)
	}

	return &Registry{
		defaults:      defaults,
		storeSettings: ss,
		lookup:        make(map[string]*Breaker),
	}
}

// Get returns the breaker of the store, creating it on first use. It
// returns nil when no breaker is configured for the store, or when it is
// disabled. A nil breaker allows every call.
func (r *Registry) Get(store string) *Breaker {
	if r == nil || store == "" {
		return nil
	}

	s, ok := r.storeSettings[store]
	if !ok {
		s = r.defaults
		s.Store = store
	}

	if s.Type == BreakerNone || s.Type == BreakerDisabled {
		return nil
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	b, ok := r.lookup[store]
	if !ok {
		b = newBreaker(s)
		r.lookup[store] = b
	}

	return b
}
