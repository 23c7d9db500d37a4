package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yeonjoon13/intended-route-monitor/internal/model"
)

// MessageWriter is the part of *kafka.Writer the publishers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns a writer for topic keyed by MMSI.
func NewWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

func mmsiKey(mmsi model.MMSI) []byte {
	return []byte(strconv.FormatInt(int64(mmsi), 10))
}

// PublishRoutes writes route messages to the routes topic.
func PublishRoutes(ctx context.Context, w MessageWriter, msgs []model.RouteMessage) error {
	records := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode route for %d: %w", m.MMSI, err)
		}
		records[i] = kafka.Message{Key: mmsiKey(m.MMSI), Value: b}
	}
	return w.WriteMessages(ctx, records...)
}

// AlertWriter publishes alerts to the alerts topic.
type AlertWriter struct {
	w MessageWriter
}

func NewAlertWriter(w MessageWriter) *AlertWriter {
	return &AlertWriter{w: w}
}

// PublishAlert writes one alert keyed by the vessel's MMSI.
func (aw *AlertWriter) PublishAlert(ctx context.Context, a model.Alert) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert for %d: %w", a.MMSI, err)
	}
	if err := aw.w.WriteMessages(ctx, kafka.Message{Key: mmsiKey(a.MMSI), Value: b}); err != nil {
		return fmt.Errorf("publish alert for %d: %w", a.MMSI, err)
	}
	return nil
}
