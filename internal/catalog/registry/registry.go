// Package registry implements the service type registry.
package registry

import (
	"context"
	"sync"

	catalogdomain "github.com/netvora/billing/internal/catalog/domain"
	"gorm.io/gorm"
)

type registry struct {
	mu        sync.RWMutex
	resolvers map[string]catalogdomain.Resolver
}

func New() catalogdomain.Registry {
	return &registry{resolvers: make(map[string]catalogdomain.Resolver)}
}

func (r *registry) Register(serviceType string, resolve catalogdomain.Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[serviceType] = resolve
}

func (r *registry) Resolve(ctx context.Context, db *gorm.DB, ref catalogdomain.ServiceRef) (any, error) {
	r.mu.RLock()
	resolve, ok := r.resolvers[ref.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, catalogdomain.ErrUnknownServiceType
	}

	svc, err := resolve(ctx, db, ref.ID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, catalogdomain.ErrServiceNotFound
	}
	return svc, nil
}
