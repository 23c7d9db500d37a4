// monitor consumes intended routes from Kafka, checks them against the own
// route, serves the results to websocket clients and publishes alerts.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yeonjoon13/intended-route-monitor/internal/alerts"
	"github.com/yeonjoon13/intended-route-monitor/internal/config"
	"github.com/yeonjoon13/intended-route-monitor/internal/kafka"
	"github.com/yeonjoon13/intended-route-monitor/internal/log"
	"github.com/yeonjoon13/intended-route-monitor/internal/monitor"
	"github.com/yeonjoon13/intended-route-monitor/internal/routesource"
	"github.com/yeonjoon13/intended-route-monitor/internal/store"
	"github.com/yeonjoon13/intended-route-monitor/internal/websocket"
)

func main() {
	cfg, err := config.ParseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	} else if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lg := log.New(cfg.LogLevel, cfg.LogDir)
	if err := run(cfg, lg); err != nil {
		lg.Error("monitor stopped", "error", err)
		os.Exit(1)
	}
	lg.Info("monitor stopped")
}

func run(cfg config.Config, lg *log.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kafka.CreateTopics(cfg.Broker, kafka.MonitorTopics(cfg.RoutesTopic, cfg.AlertsTopic)); err != nil {
		lg.Warn("topic setup failed", "broker", cfg.Broker, "error", err)
	}

	m := monitor.New(monitor.Options{
		Thresholds:    cfg.Thresholds,
		TTL:           cfg.TTL,
		TickInterval:  cfg.TickInterval,
		FilterEnabled: cfg.FilterEnabled,
		Logger:        lg,
	})

	var journal alerts.Journal
	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("alert journal: %w", err)
		}
		defer st.Close()
		journal = st
	}

	reader := kafka.NewReader(cfg.Broker, cfg.RoutesTopic, cfg.GroupID)
	defer reader.Close()
	writer := kafka.NewWriter(cfg.Broker, cfg.AlertsTopic)
	defer writer.Close()

	hub := websocket.NewHub(m, lg)
	m.AddListener(hub)
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return m.Run(ctx) })
	eg.Go(func() error { return kafka.NewRouteReader(reader, lg).Run(ctx, m) })
	eg.Go(func() error {
		return alerts.NewDispatcher(m, kafka.NewAlertWriter(writer), journal, lg).Run(ctx)
	})
	eg.Go(func() error { return hub.Run(ctx) })
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("websocket server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	if cfg.OwnRouteURL != "" {
		eg.Go(func() error {
			return routesource.NewClient(cfg.OwnRouteURL).Poll(ctx, cfg.OwnRouteInterval, m, lg)
		})
	}

	lg.Info("monitor started",
		"broker", cfg.Broker,
		"routes_topic", cfg.RoutesTopic,
		"alerts_topic", cfg.AlertsTopic,
		"listen", cfg.ListenAddress,
		"thresholds", cfg.Thresholds,
		"filter_enabled", cfg.FilterEnabled)

	return eg.Wait()
}
