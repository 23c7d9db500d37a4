package registry

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/geo"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

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

func route(mmsi model.MMSI) *model.IntendedRoute {
	r := model.NewRoute("r", t0, []model.Waypoint{
		{Position: geo.Position{Latitude: 0, Longitude: 0}, SpeedKnots: 10},
		{Position: geo.Position{Latitude: 0, Longitude: 1}},
	})
	return model.NewIntendedRoute(mmsi, r, model.NoActiveWaypoint, time.Time{})
}

func TestUpsertAndGet(t *testing.T) {
	clk := &fakeClock{t: t0}
	reg := New(clk.Now)

	stored := reg.Upsert(route(1))
	if !stored.Received.Equal(t0) {
		t.Errorf("Received = %v, want %v", stored.Received, t0)
	}
	got, ok := reg.Get(1)
	if !ok || got != stored {
		t.Errorf("Get(1) = %v, %v", got, ok)
	}
	if _, ok := reg.Get(2); ok {
		t.Error("Get(2) found a route")
	}

	clk.Advance(time.Minute)
	replaced := reg.Upsert(route(1))
	if replaced == stored || !replaced.Received.Equal(t0.Add(time.Minute)) {
		t.Errorf("upsert did not replace the revision: %+v", replaced)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestAllIsSnapshot(t *testing.T) {
	reg := New(nil)
	for _, mmsi := range []model.MMSI{3, 1, 2} {
		reg.Upsert(route(mmsi))
	}
	all := reg.All()
	var ids []model.MMSI
	for _, ir := range all {
		ids = append(ids, ir.MMSI)
	}
	if !slices.Equal(ids, []model.MMSI{1, 2, 3}) {
		t.Errorf("All() = %v", ids)
	}

	reg.Remove(2)
	if len(all) != 3 {
		t.Error("snapshot changed after Remove")
	}
}

func TestExpire(t *testing.T) {
	clk := &fakeClock{t: t0}
	reg := New(clk.Now)
	reg.Upsert(route(1))
	clk.Advance(5 * time.Minute)
	reg.Upsert(route(2))
	clk.Advance(6 * time.Minute)

	removed := reg.Expire(clk.Now(), 10*time.Minute)
	if !slices.Equal(removed, []model.MMSI{1}) {
		t.Errorf("Expire() = %v, want [1]", removed)
	}
	if _, ok := reg.Get(1); ok {
		t.Error("expired route still present")
	}
	for _, ir := range reg.All() {
		if ir.MMSI == 1 {
			t.Error("expired route still in All()")
		}
	}
	if _, ok := reg.Get(2); !ok {
		t.Error("fresh route was expired")
	}
}

func TestSetVisible(t *testing.T) {
	reg := New(nil)
	orig := reg.Upsert(route(1))

	hidden, err := reg.SetVisible(1, false)
	if err != nil {
		t.Fatal(err)
	}
	if hidden.Visible || !orig.Visible {
		t.Error("SetVisible should replace, not modify, the revision")
	}

	// A new revision keeps the operator's choice.
	if again := reg.Upsert(route(1)); again.Visible {
		t.Error("visibility lost on upsert")
	}

	if _, err := reg.SetVisible(42, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetVisible(42) error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentUpserts(t *testing.T) {
	reg := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(mmsi model.MMSI) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Upsert(route(mmsi))
				_ = reg.All()
				reg.Expire(time.Now(), time.Hour)
			}
		}(model.MMSI(i % 4))
	}
	wg.Wait()
	if reg.Len() != 4 {
		t.Errorf("Len() = %d, want 4", reg.Len())
	}
}
