// Package alerts publishes a vessel's closest approach when it becomes an
// alert the operator has not seen, and again when it is acknowledged.
package alerts

import (
	"context"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
	"github.com/yeonjoon13/intended-route-monitor/internal/notify"
	"github.com/yeonjoon13/intended-route-monitor/internal/store"
)

// Source is the part of the monitor the dispatcher reads.
type Source interface {
	FilteredRoutes() map[model.MMSI]model.FilteredIntendedRoute
	FilteredRoute(mmsi model.MMSI) (model.FilteredIntendedRoute, bool)
	Subscribe() (<-chan notify.Event, func())
}

type Publisher interface {
	PublishAlert(ctx context.Context, a model.Alert) error
}

type Journal interface {
	Record(ctx context.Context, a model.Alert) (store.Entry, error)
}

// state identifies what was last dispatched for a vessel.
type state struct {
	ownLeg, targetLeg int
	acknowledged      bool
}

type Dispatcher struct {
	src     Source
	pub     Publisher
	journal Journal
	lg      *log.Logger
	now     func() time.Time

	sent map[model.MMSI]state
}

// NewDispatcher returns a dispatcher; pub and journal may each be nil.
func NewDispatcher(src Source, pub Publisher, journal Journal, lg *log.Logger) *Dispatcher {
	return &Dispatcher{
		src:     src,
		pub:     pub,
		journal: journal,
		lg:      lg,
		now:     time.Now,
		sent:    make(map[model.MMSI]state),
	}
}

// Run dispatches alerts for every change event until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, cancel := d.src.Subscribe()
	defer cancel()

	d.checkAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.All {
				d.checkAll(ctx)
				continue
			}
			fr, ok := d.src.FilteredRoute(e.MMSI)
			d.check(ctx, e.MMSI, fr, ok)
		}
	}
}

func (d *Dispatcher) checkAll(ctx context.Context) {
	routes := d.src.FilteredRoutes()
	for mmsi := range d.sent {
		if _, ok := routes[mmsi]; !ok {
			delete(d.sent, mmsi)
		}
	}
	for mmsi, fr := range routes {
		d.check(ctx, mmsi, fr, true)
	}
}

func (d *Dispatcher) check(ctx context.Context, mmsi model.MMSI, fr model.FilteredIntendedRoute, ok bool) {
	if !ok || fr.Minimum == nil || !fr.Minimum.IsAlert() || !fr.Minimum.RoutesVisible {
		delete(d.sent, mmsi)
		return
	}

	cur := state{ownLeg: fr.Minimum.OwnLeg, targetLeg: fr.Minimum.TargetLeg, acknowledged: fr.Acknowledged}
	if prev, had := d.sent[mmsi]; had && prev == cur {
		return
	}

	a := model.Alert{
		MMSI:         mmsi,
		Message:      *fr.Minimum,
		Acknowledged: fr.Acknowledged,
		Timestamp:    d.now().Unix(),
	}
	if d.pub != nil {
		if err := d.pub.PublishAlert(ctx, a); err != nil {
			d.lg.Error("alert not published", "mmsi", mmsi, "error", err)
			return
		}
	}
	if d.journal != nil {
		if _, err := d.journal.Record(ctx, a); err != nil {
			d.lg.Error("alert not journaled", "mmsi", mmsi, "error", err)
		}
	}
	d.sent[mmsi] = cur
	d.lg.Info(fr.Minimum.Description, "mmsi", mmsi, "min_distance_nm", fr.Minimum.Distance,
		"acknowledged", fr.Acknowledged)
}
