package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"wisefido-doorlock/common/database"
	"wisefido-doorlock/common/mqtt"
	rediscommon "wisefido-doorlock/common/redis"
	"wisefido-doorlock/internal/allocator"
	"wisefido-doorlock/internal/config"
	"wisefido-doorlock/internal/dispatch"
	"wisefido-doorlock/internal/models"
	"wisefido-doorlock/internal/notify"
	"wisefido-doorlock/internal/provisioning"
	"wisefido-doorlock/internal/repository"
	"wisefido-doorlock/internal/status"
	"wisefido-doorlock/internal/sweeper"
	"wisefido-doorlock/internal/transport"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepReportStream = "doorlock:sweep_reports"

var ErrAlreadyStarted = errors.New("service: already started")

// Stores persistence the service runs on.
type Stores struct {
	Relations repository.RelationStore
	Rooms     repository.RoomStore
}

// DoorlockService door-card access core: gateway session, provisioning,
// expiry sweeping and room status tracking.
type DoorlockService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	stores       Stores
	session      *transport.Session
	alloc        *allocator.Allocator
	provisioning *provisioning.Service
	sweeper      *sweeper.Sweeper
	tracker      *status.Tracker
	poller       *status.Poller
	table        *dispatch.Table

	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	stopped     chan struct{} // closed when Start's workers have all returned
	subscribers []*notify.ChannelSink
}

// NewDoorlockService connects the configured backends and builds the service.
func NewDoorlockService(cfg *config.Config, logger *zap.Logger) (*DoorlockService, error) {
	var (
		db     *sql.DB
		stores Stores
		err    error
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		stores.Relations = repository.NewPostgresRelationStore(db, logger)
		if cfg.Rooms.Source == config.RoomsDatabase {
			stores.Rooms = repository.NewPostgresRoomStore(db, logger)
		}
	default:
		logger.Warn("No database configured, card relations are kept in memory only")
		stores.Relations = repository.NewMemoryRelationStore()
	}
	if stores.Rooms == nil {
		stores.Rooms = repository.NewStaticRoomStore(cfg.Rooms.Static)
	}

	var redisClient *redis.Client
	if cfg.RedisNeeded() {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
			database.Close(db)
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	var mqttClient *mqtt.Client
	if cfg.Notify.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			database.Close(db)
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
	}

	svc, err := New(cfg, stores, redisClient, mqttClient, logger)
	if err != nil {
		database.Close(db)
		rediscommon.Close(redisClient)
		if mqttClient != nil {
			mqttClient.Disconnect()
		}
		return nil, err
	}
	svc.db = db
	return svc, nil
}

// New builds the service on already connected backends. redisClient and
// mqttClient may be nil when the matching consumers are disabled.
func New(cfg *config.Config, stores Stores, redisClient *redis.Client, mqttClient *mqtt.Client, logger *zap.Logger) (*DoorlockService, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rooms, err := stores.Rooms.ListRoomNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rooms: %w", err)
	}
	decoder, err := status.NewDecoder(status.BitOrder(cfg.Status.BitOrder))
	if err != nil {
		return nil, err
	}
	tracker, err := status.NewTracker(rooms, decoder)
	if err != nil {
		return nil, err
	}

	session, err := transport.Open(transport.Config{
		GatewayAddr:     cfg.GatewayAddr(),
		LocalAddr:       cfg.LocalAddr(),
		RequestTimeout:  cfg.Gateway.RequestTimeout,
		MaxResponseSize: cfg.Gateway.MaxResponseSize,
		TelemetryBuffer: cfg.Status.TelemetryBuffer,
		AnswerPolls:     cfg.Gateway.AnswerPolls,
	}, logger.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway session: %w", err)
	}

	alloc := allocator.New(stores.Relations, logger.Named("allocator"))
	prov := provisioning.NewService(session, alloc, stores.Relations, logger.Named("provisioning"))
	table := dispatch.NewTable(logger.Named("dispatch"))

	s := &DoorlockService{
		config:       cfg,
		logger:       logger,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		stores:       stores,
		session:      session,
		alloc:        alloc,
		provisioning: prov,
		sweeper:      sweeper.New(stores.Relations, prov, cfg.Sweeper.Interval, logger.Named("sweeper")),
		tracker:      tracker,
		poller:       status.NewPoller(tracker, table, logger.Named("status")),
		table:        table,
	}

	if err := s.registerConsumers(); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func (s *DoorlockService) registerConsumers() error {
	n := s.config.Notify

	if n.Cache.Enabled && s.redisClient != nil {
		cache := notify.NewStatusCache(notify.NewRedisKVStore(s.redisClient), s.tracker.Snapshot, n.Cache.TTL)
		if err := s.table.Subscribe("status-cache", cache); err != nil {
			return err
		}
	}
	if n.Stream.Enabled && s.redisClient != nil {
		sink := notify.NewStreamSink(s.redisClient, n.Stream.Name, n.Stream.MaxLen, s.logger.Named("stream"))
		if err := s.table.Subscribe("stream", sink); err != nil {
			return err
		}
		s.sweeper.OnReport(s.publishSweepReport)
	}
	if n.MQTT.Enabled && s.mqttClient != nil {
		sink := notify.NewMQTTSink(s.mqttClient, n.MQTT.TopicPrefix, s.config.MQTT.QoS)
		if err := s.table.Subscribe("mqtt", sink); err != nil {
			return err
		}
	}
	for i, url := range n.Webhook.URLs {
		sink := notify.NewWebhookSink(url, n.Webhook.Timeout, n.Webhook.Retries, s.logger.Named("webhook"))
		if err := s.table.Subscribe(fmt.Sprintf("webhook-%d", i), sink); err != nil {
			return err
		}
	}
	return nil
}

// sweepSummary JSON form of a sweep report
type sweepSummary struct {
	StartedAt time.Time `json:"started_at"`
	Expired   int       `json:"expired"`
	Revoked   int       `json:"revoked"`
	Skipped   int       `json:"skipped"`
	Failed    []string  `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (s *DoorlockService) publishSweepReport(ctx context.Context, r sweeper.Report) {
	if r.Expired == 0 && r.ListErr == nil {
		return
	}
	summary := sweepSummary{
		StartedAt: r.StartedAt,
		Expired:   r.Expired,
		Revoked:   len(r.Revoked),
		Skipped:   r.Skipped,
	}
	for _, f := range r.Failed {
		summary.Failed = append(summary.Failed, f.Error())
	}
	if r.ListErr != nil {
		summary.Error = r.ListErr.Error()
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, sweepReportStream, s.config.Notify.Stream.MaxLen, summary); err != nil {
		s.logger.Warn("Failed to publish sweep report", zap.Error(err))
	}
}

// Start runs the gateway reader, the status poller and the sweeper until
// ctx is cancelled or one of them fails.
func (s *DoorlockService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	stopped := make(chan struct{})
	s.stopped = stopped
	s.mu.Unlock()
	defer close(stopped)

	s.table.Freeze()

	s.logger.Info("Starting door-lock service",
		zap.String("gateway", s.config.GatewayAddr()),
		zap.String("local_addr", s.session.LocalAddr().String()),
		zap.Ints("rooms", s.tracker.Rooms()),
		zap.Bool("sweeper_enabled", s.config.Sweeper.Enabled),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.session.Run(gctx)
		if errors.Is(err, transport.ErrSessionClosed) {
			// Stop got in before the reader started
			return nil
		}
		return err
	})
	g.Go(func() error {
		return s.poller.Run(gctx, s.session.Telemetry())
	})
	if s.config.Sweeper.Enabled {
		g.Go(func() error {
			return s.sweeper.Start(gctx)
		})
	}
	return g.Wait()
}

// Stop releases the socket, waits for the workers started by Start (bounded
// by ctx), then ends subscriptions and closes backends.
func (s *DoorlockService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	var errs []error
	if err := s.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close gateway session: %w", err))
	}

	if stopped != nil {
		select {
		case <-stopped:
		case <-ctx.Done():
			s.logger.Warn("Workers still running at shutdown deadline")
			errs = append(errs, fmt.Errorf("failed to wait for workers: %w", ctx.Err()))
		}
	}

	s.mu.Lock()
	for _, sub := range s.subscribers {
		sub.Close()
	}
	s.mu.Unlock()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

// IssueCard places card into the lowest free slot of its role in room.
func (s *DoorlockService) IssueCard(ctx context.Context, card models.Card, room int, validFrom, validUntil time.Time) (models.SlotAssignment, error) {
	return s.provisioning.IssueCard(ctx, provisioning.IssueRequest{
		Card:       card,
		Room:       room,
		ValidFrom:  validFrom,
		ValidUntil: validUntil,
	})
}

// RevokeCard clears room/slot. Revoking an empty slot succeeds.
func (s *DoorlockService) RevokeCard(ctx context.Context, room int, slot models.Slot) error {
	return s.provisioning.RevokeCard(ctx, room, slot)
}

// QueryCard sends a card status query for room/slot.
func (s *DoorlockService) QueryCard(ctx context.Context, room int, slot models.Slot) error {
	return s.provisioning.Query(ctx, room, slot)
}

// Subscribe returns a stream of status change events of the given kinds
// (all kinds when none are given). Only valid before Start.
func (s *DoorlockService) Subscribe(name string, kinds ...models.StatusFlag) (<-chan models.StatusChangeEvent, error) {
	sink := notify.NewChannelSink(0)
	if err := s.table.Subscribe("subscriber:"+name, sink, kinds...); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.subscribers = append(s.subscribers, sink)
	s.mu.Unlock()
	return sink.Events(), nil
}

// RoomStatus last decoded flags of room.
func (s *DoorlockService) RoomStatus(room int) (models.RoomStatus, bool) {
	return s.tracker.Snapshot(room)
}

// Sweep runs one expiry pass now.
func (s *DoorlockService) Sweep(ctx context.Context) sweeper.Report {
	return s.sweeper.Sweep(ctx)
}

// GatewayStats receive counters of the gateway session.
func (s *DoorlockService) GatewayStats() transport.Stats {
	return s.session.Stats()
}

// PollerMetrics status poller counters.
func (s *DoorlockService) PollerMetrics() status.Metrics {
	return s.poller.Metrics().GetSnapshot()
}
