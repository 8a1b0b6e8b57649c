package notify

import (
	"context"
	"errors"
	"sync"

	"wisefido-doorlock/internal/models"
)

var (
	ErrSubscriberBehind = errors.New("notify: subscriber buffer full, event dropped")
	ErrSubscriberClosed = errors.New("notify: subscriber closed")
)

// ChannelSink hands events to an in-process subscriber. A full buffer drops
// the event instead of stalling the poller.
type ChannelSink struct {
	mu     sync.RWMutex
	closed bool
	ch     chan models.StatusChangeEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan models.StatusChangeEvent, buffer)}
}

// Events receive side for the subscriber; closed by Close.
func (s *ChannelSink) Events() <-chan models.StatusChangeEvent {
	return s.ch
}

func (s *ChannelSink) Handle(ctx context.Context, ev models.StatusChangeEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrSubscriberBehind
	}
}

// Close ends the subscription. Idempotent.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
