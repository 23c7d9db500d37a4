// Package monitor runs intended-route conflict detection: it keeps the
// received intended routes, re-runs the detector whenever a route, the own
// route or the settings change and on a periodic tick, and tells listeners
// which vessels' filtered routes changed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yeonjoon13/intended-route-monitor/internal/collision"
	"github.com/yeonjoon13/intended-route-monitor/internal/filter"
	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
	"github.com/yeonjoon13/intended-route-monitor/internal/notify"
	"github.com/yeonjoon13/intended-route-monitor/internal/registry"
)

var ErrUnknownVessel = errors.New("unknown vessel")

const (
	DefaultTTL          = 10 * time.Minute
	DefaultTickInterval = 30 * time.Second
)

type Options struct {
	Thresholds    collision.Thresholds
	TTL           time.Duration
	TickInterval  time.Duration
	FilterEnabled bool
	// Now is the clock; time.Now if nil.
	Now    func() time.Time
	Logger *log.Logger
}

// DefaultOptions returns options with the default thresholds, TTL and
// tick interval and filtering enabled.
func DefaultOptions() Options {
	return Options{
		Thresholds:    collision.DefaultThresholds(),
		TTL:           DefaultTTL,
		TickInterval:  DefaultTickInterval,
		FilterEnabled: true,
	}
}

type Monitor struct {
	// mu serialises every state transition so that the registry and the
	// aggregator are updated in the same order for a vessel.
	mu           sync.Mutex
	own          *model.OwnRoute
	thresholds   collision.Thresholds
	enabled      bool
	ttl          time.Duration
	tickInterval time.Duration

	now func() time.Time
	lg  *log.Logger

	routes   *registry.Registry
	filtered *filter.Aggregator
	notifier *notify.Notifier

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options) *Monitor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if !opts.Thresholds.Ordered() {
		opts.Logger.Warn("thresholds are not ordered alert <= marker <= filter",
			"thresholds", opts.Thresholds)
	}

	return &Monitor{
		thresholds:   opts.Thresholds,
		enabled:      opts.FilterEnabled,
		ttl:          opts.TTL,
		tickInterval: opts.TickInterval,
		now:          opts.Now,
		lg:           opts.Logger,
		routes:       registry.New(opts.Now),
		filtered:     filter.NewAggregator(),
		notifier:     notify.NewNotifier(),
	}
}

// evaluate re-runs detection for one vessel. m.mu must be held.
func (m *Monitor) evaluate(ir *model.IntendedRoute, now time.Time) (model.FilteredIntendedRoute, bool) {
	var msgs []model.FilterMessage
	if m.enabled {
		msgs = collision.Detect(m.own, ir, m.thresholds, now)
	}
	fr, changed := m.filtered.Update(ir, msgs)

	if changed {
		args := []any{"mmsi", ir.MMSI, "messages", len(msgs), "acknowledged", fr.Acknowledged}
		if fr.Minimum != nil {
			args = append(args, "min_distance_nm", fr.Minimum.Distance, "severity", fr.Minimum.Severity)
		}
		m.lg.Debug("filtered route updated", args...)
	}
	return fr, changed
}

// evaluateAll re-runs detection for every vessel. m.mu must be held.
func (m *Monitor) evaluateAll(now time.Time) bool {
	changed := false
	for _, ir := range m.routes.All() {
		if _, c := m.evaluate(ir, now); c {
			changed = true
		}
	}
	return changed
}

// UpsertRoute stores a newly received route for a vessel and re-runs
// detection for it. activeWaypoint is NoActiveWaypoint if the vessel is not
// following the route.
func (m *Monitor) UpsertRoute(mmsi model.MMSI, r *model.Route, activeWaypoint int) model.FilteredIntendedRoute {
	return m.Upsert(model.NewIntendedRoute(mmsi, r, activeWaypoint, time.Time{}))
}

// Upsert stores an intended route revision, replacing the vessel's previous
// one, and re-runs detection for it.
func (m *Monitor) Upsert(ir *model.IntendedRoute) model.FilteredIntendedRoute {
	m.mu.Lock()
	stored := m.routes.Upsert(ir)
	if stored.Route == nil || !stored.Route.Valid() {
		m.lg.Debug("intended route cannot be compared", "mmsi", stored.MMSI)
	}
	fr, changed := m.evaluate(stored, m.now())
	m.mu.Unlock()

	if changed {
		m.notifier.Publish(notify.VesselChanged(ir.MMSI))
	}
	return fr
}

// Remove forgets a vessel's route and its acknowledgment.
func (m *Monitor) Remove(mmsi model.MMSI) bool {
	m.mu.Lock()
	removed := m.routes.Remove(mmsi)
	if m.filtered.Remove(mmsi) {
		removed = true
	}
	m.mu.Unlock()

	if removed {
		m.lg.Info("intended route removed", "mmsi", mmsi)
		m.notifier.Publish(notify.VesselChanged(mmsi))
	}
	return removed
}

// SetVisible shows or hides a vessel's route. Hidden routes are still
// compared, but their messages are marked as not visible.
func (m *Monitor) SetVisible(mmsi model.MMSI, visible bool) error {
	m.mu.Lock()
	ir, err := m.routes.SetVisible(mmsi, visible)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w %d: %w", ErrUnknownVessel, mmsi, err)
	}
	_, changed := m.evaluate(ir, m.now())
	m.mu.Unlock()

	if changed {
		m.notifier.Publish(notify.VesselChanged(mmsi))
	}
	return nil
}

// Acknowledge records that the operator has seen the vessel's current
// closest approach. It stays acknowledged until the closest approach becomes
// a different event (see model.FilterMessage.SameEvent).
func (m *Monitor) Acknowledge(mmsi model.MMSI) error {
	m.mu.Lock()
	fr, changed, err := m.filtered.Acknowledge(mmsi)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w %d: %w", ErrUnknownVessel, mmsi, err)
	}

	if changed {
		m.lg.Info("closest approach acknowledged", "mmsi", mmsi, "min_distance_nm", fr.Minimum.Distance)
		m.notifier.Publish(notify.VesselChanged(mmsi))
	}
	return nil
}

// SetOwnRoute replaces the own route, which may be nil, and re-evaluates
// every vessel.
func (m *Monitor) SetOwnRoute(own *model.OwnRoute) {
	m.mu.Lock()
	m.own = own
	if own != nil && !collision.Comparable(own) {
		m.lg.Debug("own route cannot be compared", "waypoints", own.Len())
	}
	changed := m.evaluateAll(m.now())
	m.mu.Unlock()

	if changed {
		m.notifier.Publish(notify.AllChanged())
	}
}

// SetThresholds replaces the classification distances and re-evaluates
// every vessel.
func (m *Monitor) SetThresholds(th collision.Thresholds) {
	if !th.Ordered() {
		m.lg.Warn("thresholds are not ordered alert <= marker <= filter", "thresholds", th)
	}
	m.mu.Lock()
	m.thresholds = th
	m.evaluateAll(m.now())
	m.mu.Unlock()

	m.notifier.Publish(notify.AllChanged())
}

// SetFilterEnabled switches detection on or off. While off every vessel
// has an empty result.
func (m *Monitor) SetFilterEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.evaluateAll(m.now())
	m.mu.Unlock()

	m.notifier.Publish(notify.AllChanged())
}

// Tick expires stale routes and re-evaluates every vessel. It publishes
// one AllChanged event if anything changed and reports whether it did.
func (m *Monitor) Tick() bool {
	m.mu.Lock()
	now := m.now()
	removed := m.routes.Expire(now, m.ttl)
	for _, mmsi := range removed {
		m.filtered.Remove(mmsi)
	}
	changed := m.evaluateAll(now) || len(removed) > 0
	m.mu.Unlock()

	if len(removed) > 0 {
		m.lg.Info("expired intended routes", "removed", removed)
	}
	if changed {
		m.notifier.Publish(notify.AllChanged())
	}
	return changed
}

// Run calls Tick every tick interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Start runs the periodic tick in the background. Starting a running
// monitor does nothing.
func (m *Monitor) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
}

// Stop stops the periodic tick and waits for it to finish. Filtered routes
// and acknowledgments are kept; Start may be called again.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel, m.done = nil, nil
}

// FilteredRoutes returns a snapshot of every vessel's filtered route.
func (m *Monitor) FilteredRoutes() map[model.MMSI]model.FilteredIntendedRoute {
	return m.filtered.FilteredRoutes()
}

// FilteredRoute returns one vessel's filtered route.
func (m *Monitor) FilteredRoute(mmsi model.MMSI) (model.FilteredIntendedRoute, bool) {
	return m.filtered.Get(mmsi)
}

// MinimumDistanceMessage returns the vessel's closest approach, if any.
func (m *Monitor) MinimumDistanceMessage(mmsi model.MMSI) (model.FilterMessage, bool) {
	return m.filtered.MinimumDistanceMessage(mmsi)
}

// IntendedRoutes returns a snapshot of the stored intended routes.
func (m *Monitor) IntendedRoutes() []*model.IntendedRoute {
	return m.routes.All()
}

// IntendedRoute returns the vessel's current intended route revision.
func (m *Monitor) IntendedRoute(mmsi model.MMSI) (*model.IntendedRoute, bool) {
	return m.routes.Get(mmsi)
}

func (m *Monitor) OwnRoute() *model.OwnRoute {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.own
}

func (m *Monitor) Thresholds() collision.Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

func (m *Monitor) FilterEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *Monitor) AddListener(l notify.Listener) uuid.UUID { return m.notifier.AddListener(l) }

func (m *Monitor) RemoveListener(id uuid.UUID) bool { return m.notifier.RemoveListener(id) }

// Subscribe returns a channel of change events; see notify.Notifier.Subscribe.
func (m *Monitor) Subscribe() (<-chan notify.Event, func()) { return m.notifier.Subscribe() }
