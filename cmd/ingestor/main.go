// ingestor publishes intended routes from a JSON file to Kafka at a fixed
// interval. It stands in for the AIS feed when testing the monitor.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/kafka"
	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

func main() {
	var (
		broker   = flag.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
		topic    = flag.String("topic", envOr("KAFKA_TOPIC", "intended_routes"), "Kafka topic for intended routes")
		file     = flag.String("routes", "routes.json", "JSON array of route messages")
		interval = flag.Duration("interval", time.Minute, "Publish interval")
		level    = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	lvl, err := log.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	lg := log.NewWithWriter(os.Stderr, lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w := kafka.NewWriter(*broker, *topic)
	defer w.Close()

	publish := func() {
		msgs, err := loadRoutes(*file)
		if err != nil {
			lg.Error("routes not loaded", "file", *file, "error", err)
			return
		}
		if err := kafka.PublishRoutes(ctx, w, msgs); err != nil {
			lg.Error("publish failed", "error", err)
			return
		}
		lg.Info("published routes", "messages", len(msgs), "topic", *topic)
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	lg.Info("starting ingestor", "broker", *broker, "file", *file)
	publish()
	for {
		select {
		case <-ctx.Done():
			lg.Info("shutting down ingestor")
			return
		case <-ticker.C:
			publish()
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadRoutes reads the file on every call so that routes without a start
// time are restamped to start now.
func loadRoutes(path string) ([]model.RouteMessage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}

	msgs := make([]model.RouteMessage, 0, len(raw))
	for i, r := range raw {
		var m model.RouteMessage
		if err := model.UnmarshalRouteMessage(r, &m); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if m.MMSI == 0 {
			return nil, fmt.Errorf("route %d: %w", i, model.ErrMissingMMSI)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
