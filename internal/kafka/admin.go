package kafka

import (
	"errors"
	"fmt"
	"net"

	"github.com/segmentio/kafka-go"
)

type TopicConfig struct {
	Topic             string
	NumPartitions     int
	ReplicationFactor int
}

// CreateTopics ensures each topic exists with the given config. Topics that
// already exist are left alone.
func CreateTopics(broker string, configs []TopicConfig) error {
	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		return fmt.Errorf("dial %s: %w", broker, err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	hostPort := net.JoinHostPort(controller.Host, fmt.Sprint(controller.Port))
	ctrlConn, err := kafka.Dial("tcp", hostPort)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", hostPort, err)
	}
	defer ctrlConn.Close()

	for _, cfg := range configs {
		err = ctrlConn.CreateTopics(kafka.TopicConfig{
			Topic:             cfg.Topic,
			NumPartitions:     cfg.NumPartitions,
			ReplicationFactor: cfg.ReplicationFactor,
		})
		if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", cfg.Topic, err)
		}
	}
	return nil
}

// MonitorTopics returns the single-partition topics the monitor reads from
// and writes to.
func MonitorTopics(routesTopic, alertsTopic string) []TopicConfig {
	return []TopicConfig{
		{Topic: routesTopic, NumPartitions: 1, ReplicationFactor: 1},
		{Topic: alertsTopic, NumPartitions: 1, ReplicationFactor: 1},
	}
}
