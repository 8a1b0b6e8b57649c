package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"wisefido-doorlock/internal/models"
)

const DefaultTopicPrefix = "hotel/rooms"

// Publisher MQTT publish side; *mqtt.Client from common/mqtt satisfies it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTSink publishes each flag change as a retained message on
// {prefix}/{room}/status/{flag}.
type MQTTSink struct {
	publisher Publisher
	prefix    string
	qos       byte
}

func NewMQTTSink(publisher Publisher, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTSink{publisher: publisher, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Topic for room and flag.
func (s *MQTTSink) Topic(room int, flag models.StatusFlag) string {
	return fmt.Sprintf("%s/%d/status/%s", s.prefix, room, flag)
}

func (s *MQTTSink) Handle(_ context.Context, ev models.StatusChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	topic := s.Topic(ev.Room, ev.Flag)
	if err := s.publisher.Publish(topic, s.qos, true, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
