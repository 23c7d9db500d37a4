package monitor

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/collision"
	"github.com/yeonjoon13/intended-route-monitor/internal/filter"
	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
	"github.com/yeonjoon13/intended-route-monitor/internal/notify"
	"github.com/yeonjoon13/intended-route-monitor/internal/registry"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

const target model.MMSI = 219000001

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func line(start time.Time, lat float64, lons ...float64) *model.Route {
	wps := make([]model.Waypoint, len(lons))
	for i, lon := range lons {
		wps[i] = model.Waypoint{
			Position:   geo.Position{Latitude: lat, Longitude: lon},
			Heading:    geo.RhumbLine,
			SpeedKnots: 10,
		}
	}
	return model.NewRoute("test", start, wps)
}

// newMonitor returns a monitor with an own route sailing east along the
// equator from t0 in two legs, and a counter of published events.
func newMonitor(t *testing.T) (*Monitor, *fakeClock, *atomic.Int32) {
	t.Helper()
	clk := &fakeClock{t: t0}
	opts := DefaultOptions()
	opts.Now = clk.Now
	m := New(opts)
	m.SetOwnRoute(model.NewOwnRoute(line(t0, 0, 0, 0.5, 1), model.NoActiveWaypoint))

	var events atomic.Int32
	m.AddListener(notify.ListenerFunc(func(notify.Event) { events.Add(1) }))
	return m, clk, &events
}

func TestUpsertDetects(t *testing.T) {
	m, _, events := newMonitor(t)

	fr := m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	if events.Load() != 1 {
		t.Errorf("published %d events, want 1", events.Load())
	}
	if !fr.Include() || fr.Minimum == nil {
		t.Fatalf("no approach found: %+v", fr)
	}
	if math.Abs(fr.Minimum.Distance-0.6) > 0.01 || fr.Minimum.Severity != model.SeverityMarker {
		t.Errorf("minimum = %.3f nm %v, want ~0.6 nm marker", fr.Minimum.Distance, fr.Minimum.Severity)
	}
	if !fr.Minimum.OwnTime.Equal(t0) {
		t.Errorf("minimum at %v, want %v", fr.Minimum.OwnTime, t0)
	}

	got, ok := m.MinimumDistanceMessage(target)
	if !ok || !got.Equal(*fr.Minimum) {
		t.Errorf("MinimumDistanceMessage() = %+v, %v", got, ok)
	}
	if ir, ok := m.IntendedRoute(target); !ok || !ir.Received.Equal(t0) {
		t.Errorf("IntendedRoute() = %+v, %v", ir, ok)
	}
}

func TestUpsertWithoutOwnRoute(t *testing.T) {
	m := New(DefaultOptions())
	fr := m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	if fr.Include() || fr.Minimum != nil {
		t.Errorf("got approach without an own route: %+v", fr)
	}
	if _, ok := m.FilteredRoute(target); !ok {
		t.Error("vessel missing from filtered routes")
	}
}

func TestAcknowledgment(t *testing.T) {
	m, _, events := newMonitor(t)
	own := m.OwnRoute()

	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	if err := m.Acknowledge(target); err != nil {
		t.Fatal(err)
	}
	fr, _ := m.FilteredRoute(target)
	if !fr.Acknowledged {
		t.Fatal("not acknowledged")
	}

	// A second acknowledgment changes nothing and publishes nothing.
	before := events.Load()
	if err := m.Acknowledge(target); err != nil {
		t.Fatal(err)
	}
	if events.Load() != before {
		t.Error("repeated acknowledgment published an event")
	}

	// A new revision with the closest approach on the same legs keeps it.
	fr = m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	if !fr.Acknowledged {
		t.Error("acknowledgment lost for the same event")
	}

	// Moving the approach to the own route's second leg is a new event.
	fr = m.UpsertRoute(target, line(own.ETA(1), 0.01, 0.5, 1), model.NoActiveWaypoint)
	if fr.Minimum == nil || fr.Minimum.OwnLeg != 1 {
		t.Fatalf("minimum = %+v, want one on own leg 1", fr.Minimum)
	}
	if fr.Acknowledged {
		t.Error("acknowledgment carried over to a new event")
	}
}

func TestAcknowledgmentResetsOnReplan(t *testing.T) {
	m, _, _ := newMonitor(t)

	fr := m.UpsertRoute(target, line(t0, 0.005, 0, 0.5), model.NoActiveWaypoint)
	if fr.Minimum == nil || !fr.Minimum.OwnTime.Equal(t0) {
		t.Fatalf("minimum = %+v, want one at %v", fr.Minimum, t0)
	}
	m.Acknowledge(target)

	// The re-planned route meets the own route on the same legs, but
	// closer and an hour and a half later.
	fr = m.UpsertRoute(target, line(t0.Add(90*time.Minute), 0.002, 0.25, 0.5), model.NoActiveWaypoint)
	if fr.Minimum == nil || fr.Minimum.OwnLeg != 0 || fr.Minimum.TargetLeg != 0 {
		t.Fatalf("minimum = %+v, want one on the first legs", fr.Minimum)
	}
	if fr.Minimum.Distance > 0.15 || !fr.Minimum.OwnTime.Equal(t0.Add(90*time.Minute)) {
		t.Errorf("minimum = %.3f nm at %v", fr.Minimum.Distance, fr.Minimum.OwnTime)
	}
	if fr.Acknowledged {
		t.Error("acknowledgment carried over to the re-planned approach")
	}
}

func TestAcknowledgeUnknown(t *testing.T) {
	m, _, _ := newMonitor(t)
	err := m.Acknowledge(target)
	if !errors.Is(err, ErrUnknownVessel) || !errors.Is(err, filter.ErrNotFound) {
		t.Errorf("Acknowledge() = %v, want ErrUnknownVessel", err)
	}
}

func TestSetVisible(t *testing.T) {
	m, _, _ := newMonitor(t)
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)

	if err := m.SetVisible(target, false); err != nil {
		t.Fatal(err)
	}
	fr, _ := m.FilteredRoute(target)
	if fr.Minimum == nil || fr.Minimum.RoutesVisible {
		t.Errorf("hidden route: %+v", fr.Minimum)
	}

	// Visibility survives a new revision.
	fr = m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	if fr.Route.Visible || fr.Minimum.RoutesVisible {
		t.Error("new revision made the route visible")
	}

	err := m.SetVisible(219000002, true)
	if !errors.Is(err, ErrUnknownVessel) || !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("SetVisible(unknown) = %v", err)
	}
}

func TestTickExpires(t *testing.T) {
	m, clk, events := newMonitor(t)
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	m.Acknowledge(target)

	before := events.Load()
	if m.Tick() {
		t.Error("Tick() reported a change with nothing to do")
	}
	if events.Load() != before {
		t.Error("idle Tick() published an event")
	}

	clk.Advance(DefaultTTL + time.Second)
	if !m.Tick() {
		t.Error("Tick() did not report the expiry")
	}
	if events.Load() != before+1 {
		t.Errorf("published %d events, want 1", events.Load()-before)
	}
	if _, ok := m.IntendedRoute(target); ok {
		t.Error("expired route still stored")
	}
	if _, ok := m.FilteredRoute(target); ok {
		t.Error("expired route still filtered")
	}

	// Coming back starts from scratch.
	fr := m.UpsertRoute(target, line(clk.Now(), 0.01, 0, 0.5), model.NoActiveWaypoint)
	if fr.Acknowledged {
		t.Error("acknowledgment survived expiry")
	}
}

func TestTickOngoingApproach(t *testing.T) {
	m, clk, events := newMonitor(t)
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	m.Acknowledge(target)

	before := events.Load()
	for range 5 {
		clk.Advance(time.Minute)
		if m.Tick() {
			t.Error("Tick() reported a change for an approach that is only following the clock")
		}
	}
	if events.Load() != before {
		t.Errorf("published %d events, want none", events.Load()-before)
	}

	fr, _ := m.FilteredRoute(target)
	if !fr.Acknowledged {
		t.Error("acknowledgment lost while the approach was ongoing")
	}
	if fr.Minimum == nil || !fr.Minimum.Ongoing || !fr.Minimum.OwnTime.Equal(clk.Now()) {
		t.Errorf("minimum = %+v, want an ongoing approach at %v", fr.Minimum, clk.Now())
	}
}

func TestSettingsReevaluate(t *testing.T) {
	m, _, _ := newMonitor(t)
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)

	m.SetThresholds(collision.Thresholds{AlertNM: 0.65, MarkerNM: 1, FilterNM: 2})
	fr, _ := m.FilteredRoute(target)
	if !fr.PendingAlert() {
		t.Errorf("want a pending alert, got %+v", fr.Minimum)
	}

	m.SetThresholds(collision.Thresholds{AlertNM: 0.1, MarkerNM: 0.2, FilterNM: 0.3})
	if fr, _ = m.FilteredRoute(target); fr.Include() {
		t.Error("approach beyond the filter distance kept")
	}

	m.SetThresholds(collision.DefaultThresholds())
	m.SetFilterEnabled(false)
	if fr, _ = m.FilteredRoute(target); fr.Include() {
		t.Error("messages produced with filtering off")
	}
	m.SetFilterEnabled(true)
	if fr, _ = m.FilteredRoute(target); !fr.Include() {
		t.Error("no messages after filtering was switched back on")
	}

	m.SetOwnRoute(nil)
	if fr, _ = m.FilteredRoute(target); fr.Include() {
		t.Error("messages produced without an own route")
	}
}

func TestRemove(t *testing.T) {
	m, _, _ := newMonitor(t)
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)

	if !m.Remove(target) {
		t.Fatal("Remove() = false")
	}
	if m.Remove(target) {
		t.Error("second Remove() = true")
	}
	if len(m.FilteredRoutes()) != 0 || len(m.IntendedRoutes()) != 0 {
		t.Error("vessel still present")
	}
}

func TestStartStop(t *testing.T) {
	clk := &fakeClock{t: t0}
	opts := DefaultOptions()
	opts.Now = clk.Now
	opts.TickInterval = 10 * time.Millisecond
	m := New(opts)
	m.SetOwnRoute(model.NewOwnRoute(line(t0, 0, 0, 0.5, 1), model.NoActiveWaypoint))
	m.UpsertRoute(target, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
	m.Acknowledge(target)

	m.Start()
	m.Start()
	m.Stop()
	m.Stop()

	if fr, _ := m.FilteredRoute(target); !fr.Acknowledged {
		t.Error("Stop() reset the acknowledgment")
	}

	events, cancel := m.Subscribe()
	defer cancel()
	m.Start()
	defer m.Stop()
	clk.Advance(DefaultTTL + time.Second)

	select {
	case e := <-events:
		if !e.All {
			t.Errorf("event = %+v, want AllChanged", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("periodic tick did not expire the route")
	}
	if _, ok := m.FilteredRoute(target); ok {
		t.Error("expired route still filtered")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	m, _, _ := newMonitor(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mmsi := target + model.MMSI(i)
			for range 20 {
				m.UpsertRoute(mmsi, line(t0, 0.01, 0, 0.5), model.NoActiveWaypoint)
				m.Acknowledge(mmsi)
				m.SetVisible(mmsi, i%2 == 0)
				m.Tick()
			}
		}()
	}
	wg.Wait()

	if got := len(m.FilteredRoutes()); got != 8 {
		t.Errorf("FilteredRoutes() has %d vessels, want 8", got)
	}
	for mmsi, fr := range m.FilteredRoutes() {
		if ir, _ := m.IntendedRoute(mmsi); fr.Route != ir {
			t.Errorf("%d: filtered route does not match the stored revision", mmsi)
		}
	}
}
