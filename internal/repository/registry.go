package repository

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/cloo-solutions/repokit/internal/domain"
)

// Registry maps entity types to the repository serving them. It is built
// once at startup and passed to the code that needs repositories.
type Registry struct {
	mu    sync.RWMutex
	repos map[reflect.Type]any
	order []reflect.Type
}

func NewRegistry() *Registry {
	return &Registry{repos: make(map[reflect.Type]any)}
}

// Register binds repo to T, replacing any previous binding.
func Register[T any](r *Registry, repo Repository[T]) {
	typ := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repos[typ]; !ok {
		r.order = append(r.order, typ)
	}
	r.repos[typ] = repo
}

// Unregister removes the binding of T without closing the repository.
func Unregister[T any](r *Registry) {
	typ := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.repos, typ)
	for i, t := range r.order {
		if t == typ {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// For returns the repository bound to T.
func For[T any](r *Registry) (Repository[T], error) {
	typ := reflect.TypeFor[T]()

	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[typ]
	if !ok {
		return nil, domain.ErrRepositoryNotRegistered.WithCause(fmt.Errorf("type %s", typ))
	}
	return repo.(Repository[T]), nil
}

// MustFor is For for wiring code where a missing binding is a bug.
func MustFor[T any](r *Registry) Repository[T] {
	repo, err := For[T](r)
	if err != nil {
		panic(err)
	}
	return repo
}

// Close closes every registered repository, most recently registered
// first, and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for i := len(r.order) - 1; i >= 0; i-- {
		if c, ok := r.repos[r.order[i]].(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.repos = make(map[reflect.Type]any)
	r.order = nil
	return errors.Join(errs...)
}
