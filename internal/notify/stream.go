package notify

import (
	"context"
	"fmt"

	commonredis "wisefido-doorlock/common/redis"
	"wisefido-doorlock/internal/models"

	"go.uber.org/zap"
)

const DefaultStream = "doorlock:status_events"

// StreamSink appends every event to a Redis stream for downstream services.
type StreamSink struct {
	client *commonredis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewStreamSink(client *commonredis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamSink{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (s *StreamSink) Handle(ctx context.Context, ev models.StatusChangeEvent) error {
	id, err := commonredis.PublishToStream(ctx, s.client, s.stream, s.maxLen, map[string]interface{}{
		"event_id":    ev.EventID,
		"room":        ev.Room,
		"flag":        string(ev.Flag),
		"value":       ev.NewValue,
		"description": ev.Description(),
		"timestamp":   ev.At.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to stream %s: %w", s.stream, err)
	}
	s.logger.Debug("Status event published to stream",
		zap.String("stream", s.stream),
		zap.String("message_id", id),
		zap.String("event_id", ev.EventID),
	)
	return nil
}
