package status

import (
	"context"
	"sync"
	"time"

	"wisefido-doorlock/internal/models"

	"go.uber.org/zap"
)

// Publisher receives every change event the poller emits.
type Publisher interface {
	Publish(ctx context.Context, event models.StatusChangeEvent)
}

// Metrics poller counters
type Metrics struct {
	mu sync.RWMutex

	DatagramsReceived int64
	DatagramsApplied  int64
	DatagramsDropped  int64 // malformed telemetry
	EventsEmitted     int64

	LastDatagram time.Time
	StartTime    time.Time
}

// GetSnapshot copy of the counters
func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		DatagramsReceived: m.DatagramsReceived,
		DatagramsApplied:  m.DatagramsApplied,
		DatagramsDropped:  m.DatagramsDropped,
		EventsEmitted:     m.EventsEmitted,
		LastDatagram:      m.LastDatagram,
		StartTime:         m.StartTime,
	}
}

func (m *Metrics) record(applied bool, events int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DatagramsReceived++
	if applied {
		m.DatagramsApplied++
	} else {
		m.DatagramsDropped++
	}
	m.EventsEmitted += int64(events)
	m.LastDatagram = at
}

// Poller feeds telemetry into the tracker and publishes the resulting events.
type Poller struct {
	tracker   *Tracker
	publisher Publisher
	logger    *zap.Logger
	metrics   *Metrics
}

func NewPoller(tracker *Tracker, publisher Publisher, logger *zap.Logger) *Poller {
	return &Poller{
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		metrics:   &Metrics{StartTime: time.Now()},
	}
}

// Metrics live counters.
func (p *Poller) Metrics() *Metrics {
	return p.metrics
}

// Run consumes telemetry until ctx ends or the stream closes.
func (p *Poller) Run(ctx context.Context, telemetry <-chan []byte) error {
	p.logger.Info("Status poller started", zap.Ints("rooms", p.tracker.Rooms()))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Status poller stopped")
			return nil
		case datagram, ok := <-telemetry:
			if !ok {
				p.logger.Info("Telemetry stream closed, status poller stopped")
				return nil
			}
			p.handle(ctx, datagram)
		}
	}
}

func (p *Poller) handle(ctx context.Context, datagram []byte) {
	events, err := p.tracker.Apply(datagram)
	if err != nil {
		p.metrics.record(false, 0, time.Now())
		p.logger.Warn("Dropping malformed telemetry",
			zap.Int("size", len(datagram)),
			zap.Error(err),
		)
		return
	}
	p.metrics.record(true, len(events), time.Now())

	for _, ev := range events {
		p.logger.Info("Room status changed",
			zap.Int("room", ev.Room),
			zap.String("flag", string(ev.Flag)),
			zap.Bool("value", ev.NewValue),
		)
		p.publisher.Publish(ctx, ev)
	}
}
