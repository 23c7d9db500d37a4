// Package registry stores the latest intended route received from each
// remote vessel.
package registry

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

var ErrNotFound = errors.New("no intended route for vessel")

// Registry maps vessels to their latest intended route revision. Entries
// are replaced, never modified, so a route handed out by Get or All stays
// consistent while updates continue.
type Registry struct {
	mu     sync.RWMutex
	routes map[model.MMSI]*model.IntendedRoute
	now    func() time.Time
}

// New returns an empty registry that stamps receptions using now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		routes: make(map[model.MMSI]*model.IntendedRoute),
		now:    now,
	}
}

// Upsert stores route as the vessel's current revision, stamped with the
// current time, and returns the stored revision. The visibility chosen by
// the operator survives the replacement.
func (r *Registry) Upsert(route *model.IntendedRoute) *model.IntendedRoute {
	stored := route.WithReceived(r.now())

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.routes[route.MMSI]; ok {
		stored.Visible = prev.Visible
	}
	r.routes[route.MMSI] = stored
	return stored
}

// Get returns the vessel's current revision.
func (r *Registry) Get(mmsi model.MMSI) (*model.IntendedRoute, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ir, ok := r.routes[mmsi]
	return ir, ok
}

// All returns a snapshot of every stored revision ordered by MMSI.
func (r *Registry) All() []*model.IntendedRoute {
	r.mu.RLock()
	routes := make([]*model.IntendedRoute, 0, len(r.routes))
	for _, ir := range r.routes {
		routes = append(routes, ir)
	}
	r.mu.RUnlock()

	slices.SortFunc(routes, func(a, b *model.IntendedRoute) int { return cmp.Compare(a.MMSI, b.MMSI) })
	return routes
}

// Len returns the number of stored routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Expire removes every route received more than ttl before now and returns
// the vessels removed.
func (r *Registry) Expire(now time.Time, ttl time.Duration) []model.MMSI {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []model.MMSI
	for mmsi, ir := range r.routes {
		if ir.Age(now) > ttl {
			delete(r.routes, mmsi)
			removed = append(removed, mmsi)
		}
	}
	slices.Sort(removed)
	return removed
}

// SetVisible replaces the vessel's route with a copy carrying the new
// visibility.
func (r *Registry) SetVisible(mmsi model.MMSI, visible bool) (*model.IntendedRoute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ir, ok := r.routes[mmsi]
	if !ok {
		return nil, ErrNotFound
	}
	if ir.Visible != visible {
		ir = ir.WithVisible(visible)
		r.routes[mmsi] = ir
	}
	return ir, nil
}

// Remove deletes the vessel's route. It reports whether there was one.
func (r *Registry) Remove(mmsi model.MMSI) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routes[mmsi]
	delete(r.routes, mmsi)
	return ok
}
