// Package filter keeps the current close-approach results per remote
// vessel and the operator's acknowledgment of them.
package filter

import (
	"errors"
	"maps"
	"sync"

	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

var ErrNotFound = errors.New("no filtered route for vessel")

// Aggregator owns one FilteredIntendedRoute per tracked vessel. Results are
// stored by value and replaced as a whole, so a reader always sees a
// message list that agrees with its minimum.
type Aggregator struct {
	mu     sync.RWMutex
	routes map[model.MMSI]model.FilteredIntendedRoute
}

func NewAggregator() *Aggregator {
	return &Aggregator{routes: make(map[model.MMSI]model.FilteredIntendedRoute)}
}

// Update stores the latest detector result for route's vessel. The previous
// acknowledgment carries over only if the closest approach is still the
// same event (see model.FilterMessage.SameEvent). It returns the stored
// result and whether it differs from the one it replaced, not counting an
// ongoing approach following the clock.
func (a *Aggregator) Update(route *model.IntendedRoute, msgs []model.FilterMessage) (model.FilteredIntendedRoute, bool) {
	fr := model.NewFilteredIntendedRoute(route, msgs)

	a.mu.Lock()
	defer a.mu.Unlock()

	prev, existed := a.routes[route.MMSI]
	if existed && prev.Acknowledged && prev.Minimum != nil && fr.Minimum != nil &&
		prev.Minimum.SameEvent(*fr.Minimum) {
		fr.Acknowledged = true
	}
	a.routes[route.MMSI] = fr

	return fr, !existed || !prev.SameResult(fr)
}

// Acknowledge marks the vessel's current closest approach as seen by the
// operator. Acknowledging twice, or a vessel with no approach, is a no-op.
func (a *Aggregator) Acknowledge(mmsi model.MMSI) (model.FilteredIntendedRoute, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fr, ok := a.routes[mmsi]
	if !ok {
		return fr, false, ErrNotFound
	}
	if fr.Acknowledged || fr.Minimum == nil {
		return fr, false, nil
	}
	fr.Acknowledged = true
	a.routes[mmsi] = fr
	return fr, true, nil
}

// Remove drops the vessel, including its acknowledgment.
func (a *Aggregator) Remove(mmsi model.MMSI) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.routes[mmsi]
	delete(a.routes, mmsi)
	return ok
}

// Get returns the vessel's current result.
func (a *Aggregator) Get(mmsi model.MMSI) (model.FilteredIntendedRoute, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fr, ok := a.routes[mmsi]
	return fr, ok
}

// FilteredRoutes returns a snapshot of every vessel's result.
func (a *Aggregator) FilteredRoutes() map[model.MMSI]model.FilteredIntendedRoute {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.routes)
}

// MinimumDistanceMessage returns the vessel's closest approach, if any.
func (a *Aggregator) MinimumDistanceMessage(mmsi model.MMSI) (model.FilterMessage, bool) {
	fr, ok := a.Get(mmsi)
	if !ok {
		return model.FilterMessage{}, false
	}
	return fr.MinimumDistanceMessage()
}

// Len returns the number of tracked vessels.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.routes)
}
