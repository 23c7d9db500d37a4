package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yeonjoon13/intended-route-monitor/internal/collision"
)

type Config struct {
	Broker      string
	RoutesTopic string
	AlertsTopic string
	GroupID     string

	ListenAddress string

	OwnRouteURL      string
	OwnRouteInterval time.Duration

	Thresholds    collision.Thresholds
	TTL           time.Duration
	TickInterval  time.Duration
	FilterEnabled bool

	DBPath   string
	LogDir   string
	LogLevel string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseFlags parses the monitor's command line. Broker and topic default
// to $KAFKA_BROKER and $KAFKA_TOPIC when set.
func ParseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	def := collision.DefaultThresholds()

	broker := fs.String("broker", envOr("KAFKA_BROKER", "localhost:9092"), "Kafka broker address")
	routesTopic := fs.String("routes-topic", envOr("KAFKA_TOPIC", "intended_routes"), "Kafka topic carrying intended routes")
	alertsTopic := fs.String("alerts-topic", "route_alerts", "Kafka topic for published alerts")
	group := fs.String("group", "route-monitor", "Consumer group ID")
	listen := fs.String("listen", ":8080", "Websocket listen address")
	ownURL := fs.String("own-route-url", "", "Route manager endpoint serving the own route (disabled if empty)")
	ownInterval := fs.Duration("own-route-interval", 30*time.Second, "Own route poll interval")
	alert := fs.Float64("alert-nm", def.AlertNM, "Alert distance in nautical miles")
	marker := fs.Float64("marker-nm", def.MarkerNM, "Marker distance in nautical miles")
	filter := fs.Float64("filter-nm", def.FilterNM, "Filter distance in nautical miles")
	ttl := fs.Duration("ttl", 10*time.Minute, "Time before an intended route that is not refreshed expires")
	tick := fs.Duration("tick", 30*time.Second, "Re-evaluation interval")
	enabled := fs.Bool("filter-enabled", true, "Run route filtering")
	db := fs.String("db", "alerts.db", "SQLite alert journal (empty disables)")
	logDir := fs.String("log-dir", "logs", "Log directory")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Broker:           *broker,
		RoutesTopic:      *routesTopic,
		AlertsTopic:      *alertsTopic,
		GroupID:          *group,
		ListenAddress:    *listen,
		OwnRouteURL:      *ownURL,
		OwnRouteInterval: *ownInterval,
		Thresholds:       collision.Thresholds{AlertNM: *alert, MarkerNM: *marker, FilterNM: *filter},
		TTL:              *ttl,
		TickInterval:     *tick,
		FilterEnabled:    *enabled,
		DBPath:           *db,
		LogDir:           *logDir,
		LogLevel:         *logLevel,
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the monitor cannot run with. Misordered
// thresholds are allowed.
func (c Config) Validate() error {
	var errs []error
	th := c.Thresholds
	if th.AlertNM < 0 || th.MarkerNM < 0 || th.FilterNM < 0 {
		errs = append(errs, fmt.Errorf("distances must not be negative: %+v", th))
	}
	if c.TTL <= 0 {
		errs = append(errs, errors.New("ttl must be > 0"))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick must be > 0"))
	}
	if c.OwnRouteURL != "" && c.OwnRouteInterval <= 0 {
		errs = append(errs, errors.New("own-route-interval must be > 0"))
	}
	if c.Broker == "" {
		errs = append(errs, errors.New("broker must be set"))
	}
	return errors.Join(errs...)
}
