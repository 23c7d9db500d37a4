package kafka

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/segmentio/kafka-go"

	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

var readRetryDelay = time.Second

// MessageReader is the part of *kafka.Reader the route consumer uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// RouteSink receives every decoded intended route.
type RouteSink interface {
	Upsert(*model.IntendedRoute) model.FilteredIntendedRoute
}

// NewReader returns a configured kafka.Reader
func NewReader(broker, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         []string{broker},
		Topic:           topic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		MaxWait:         time.Second,
		GroupID:         groupID,
		ReadLagInterval: -1,
		// A new group replays retained routes so that vessels are known
		// before their next broadcast.
		StartOffset: kafka.FirstOffset,
	})
}

// DecodeRoute turns a record from the routes topic into an intended route.
// The record key holds the MMSI when the payload does not.
func DecodeRoute(m kafka.Message) (*model.IntendedRoute, error) {
	var msg model.RouteMessage
	if err := model.UnmarshalRouteMessage(cleanPayload(m.Value), &msg); err != nil {
		return nil, fmt.Errorf("decode route at offset %d: %w", m.Offset, err)
	}
	if msg.MMSI == 0 && len(m.Key) > 0 {
		if mmsi, err := strconv.ParseInt(string(m.Key), 10, 64); err == nil {
			msg.MMSI = model.MMSI(mmsi)
		}
	}
	ir, err := msg.IntendedRoute(time.Time{})
	if err != nil {
		return nil, fmt.Errorf("route at offset %d: %w", m.Offset, err)
	}
	return ir, nil
}

// cleanPayload drops a leading BOM or Unicode space some producers emit.
func cleanPayload(raw []byte) []byte {
	s := strings.TrimLeftFunc(string(raw), func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff' || r == '\u00a0'
	})
	return []byte(s)
}

// RouteReader feeds intended routes from the routes topic into the
// monitor.
type RouteReader struct {
	r  MessageReader
	lg *log.Logger
}

func NewRouteReader(r MessageReader, lg *log.Logger) *RouteReader {
	return &RouteReader{r: r, lg: lg}
}

// Run reads intended routes until ctx is done and hands each one to sink.
// Undecodable records are logged and skipped; read errors are retried after
// a short delay.
func (rr *RouteReader) Run(ctx context.Context, sink RouteSink) error {
	for {
		m, err := rr.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			rr.lg.Warn("route read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}

		ir, err := DecodeRoute(m)
		if err != nil {
			rr.lg.Warn("route dropped", "error", err, "key", string(m.Key))
			continue
		}

		fr := sink.Upsert(ir)
		rr.lg.Debug("route received", "mmsi", ir.MMSI, "waypoints", ir.Route.Len(),
			"messages", len(fr.Messages))
	}
}
