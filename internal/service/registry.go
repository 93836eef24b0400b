package service

import (
	"sort"
	"sync"

	"github.com/calvinalkan/kvcore/internal/errs"
)

// Registry is a process-local map of named services, per spec.md §4.10's
// service registry collaborator: cmd/kvengine registers the async
// runtime, the acceptor and, when enabled, the text protocol server and
// the SQL index under fixed names, while `kvctl service
// {list,start,stop,status}` builds its own local Registry and addresses
// the services in it by name. The
// map-plus-RWMutex shape is grounded on torua's
// internal/coordinator/shard_registry.go, adapted from shard-id keys to
// service-name keys.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds a named service. Registering the same name twice is an
// error — the registry does not silently replace a running service.
func (r *Registry) Register(name string, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return errs.New(errs.AlreadyExists, "service.registry.register", nil)
	}

	r.services[name] = svc

	return nil
}

// Get returns the named service, or NotFound.
func (r *Registry) Get(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "service.registry.get", nil)
	}

	return svc, nil
}

// Names returns every registered service name, sorted, so CLI output is
// deterministic.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// StartAll calls Start on every registered service in name order,
// stopping at the first failure.
func (r *Registry) StartAll() error {
	for _, name := range r.Names() {
		svc, err := r.Get(name)
		if err != nil {
			return err
		}

		if err := svc.Start(); err != nil {
			return err
		}
	}

	return nil
}

// StopAll calls Stop on every registered service in reverse name order,
// collecting but not stopping at the first failure — every service gets
// a chance to shut down even if one of its peers errors.
func (r *Registry) StopAll() error {
	names := r.Names()

	var firstErr error

	for i := len(names) - 1; i >= 0; i-- {
		svc, err := r.Get(names[i])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
