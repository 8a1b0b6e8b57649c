package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-doorlock/internal/protocol"

	"go.uber.org/zap"
)

var (
	ErrTimeout        = errors.New("transport: request timed out")
	ErrSessionClosed  = errors.New("transport: session closed")
	ErrAlreadyRunning = errors.New("transport: session reader already running")
)

const (
	DefaultRequestTimeout  = 2 * time.Second
	DefaultMaxResponseSize = 64
	DefaultTelemetryBuffer = 64

	readBufferSize = 2048
	requestRetries = 1
)

// Config gateway endpoint settings
type Config struct {
	GatewayAddr     string        // gateway ip:port, the lock gateway listens on 80
	LocalAddr       string        // local bind address, shared by requests and telemetry
	RequestTimeout  time.Duration // per attempt
	MaxResponseSize int           // larger datagrams are never taken as a response
	TelemetryBuffer int
	AnswerPolls     bool // reply to gateway polls with a time-sync heartbeat
}

// Stats receive-side counters
type Stats struct {
	Received  int64
	Telemetry int64
	Responses int64
	Polls     int64
	Dropped   int64
}

// Session owns the UDP socket talking to one gateway. A single reader
// goroutine (Run) demultiplexes inbound datagrams between the request in
// flight, the telemetry stream and the poll responder.
type Session struct {
	cfg     Config
	conn    *net.UDPConn
	gateway *net.UDPAddr
	logger  *zap.Logger
	now     func() time.Time

	// the wire has no correlation id, so one request at a time
	reqMu sync.Mutex

	waitMu sync.Mutex
	waiter chan []byte

	telemetry      chan []byte
	closeTelemetry sync.Once
	running        atomic.Bool
	done           chan struct{}
	closeOnce      sync.Once
	closeErr       error

	received   atomic.Int64
	telemetryN atomic.Int64
	responses  atomic.Int64
	polls      atomic.Int64
	dropped    atomic.Int64
}

// Open binds the local socket and resolves the gateway address.
func Open(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	if cfg.TelemetryBuffer <= 0 {
		cfg.TelemetryBuffer = DefaultTelemetryBuffer
	}

	gateway, err := net.ResolveUDPAddr("udp4", cfg.GatewayAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve gateway address %q: %w", cfg.GatewayAddr, err)
	}
	local, err := net.ResolveUDPAddr("udp4", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local address %q: %w", cfg.LocalAddr, err)
	}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", cfg.LocalAddr, err)
	}

	logger.Info("Gateway session opened",
		zap.String("local_addr", conn.LocalAddr().String()),
		zap.String("gateway_addr", gateway.String()),
	)

	return &Session{
		cfg:       cfg,
		conn:      conn,
		gateway:   gateway,
		logger:    logger,
		now:       time.Now,
		telemetry: make(chan []byte, cfg.TelemetryBuffer),
		done:      make(chan struct{}),
	}, nil
}

// LocalAddr bound socket address.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Telemetry stream of telemetry datagrams; closed when Run returns.
func (s *Session) Telemetry() <-chan []byte {
	return s.telemetry
}

// Stats snapshot of the receive counters.
func (s *Session) Stats() Stats {
	return Stats{
		Received:  s.received.Load(),
		Telemetry: s.telemetryN.Load(),
		Responses: s.responses.Load(),
		Polls:     s.polls.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Send writes frame to the gateway without waiting for anything.
func (s *Session) Send(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if _, err := s.conn.WriteToUDP(frame, s.gateway); err != nil {
		return fmt.Errorf("failed to send to gateway: %w", err)
	}
	return nil
}

// Request sends frame and waits for the gateway's response. A timed out
// attempt is retried once before ErrTimeout is returned. Run must be active.
func (s *Session) Request(ctx context.Context, frame []byte) ([]byte, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= requestRetries; attempt++ {
		resp, err := s.exchange(ctx, frame)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrTimeout) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("Gateway request timed out",
			zap.Int("attempt", attempt+1),
			zap.Duration("timeout", s.cfg.RequestTimeout),
		)
	}
	return nil, lastErr
}

func (s *Session) exchange(ctx context.Context, frame []byte) ([]byte, error) {
	respCh := make(chan []byte, 1)

	s.waitMu.Lock()
	s.waiter = respCh
	s.waitMu.Unlock()

	defer func() {
		s.waitMu.Lock()
		if s.waiter == respCh {
			s.waiter = nil
		}
		s.waitMu.Unlock()
	}()

	if err := s.Send(frame); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, s.cfg.RequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

// Run reads the socket until ctx is cancelled or the session is closed.
// It is the only reader of the socket; a second call returns
// ErrAlreadyRunning, a call after Close returns ErrSessionClosed.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.closeTelemetry.Do(func() { close(s.telemetry) })

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				s.logger.Info("Gateway session reader stopped")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			// ICMP errors and the like surface here on some platforms
			s.logger.Warn("Failed to read datagram", zap.Error(err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.received.Add(1)
		s.route(data, addr)
	}
}

func (s *Session) route(data []byte, from *net.UDPAddr) {
	kind := protocol.Classify(data)

	switch kind {
	case protocol.KindTelemetry:
		select {
		case s.telemetry <- data:
			s.telemetryN.Add(1)
		default:
			s.dropped.Add(1)
			s.logger.Warn("Telemetry consumer is behind, dropping datagram",
				zap.Int("size", len(data)),
			)
		}
		return
	case protocol.KindCommand:
		// our own command shape coming back (echo or relay); never a response
		s.dropped.Add(1)
		s.logger.Debug("Ignoring inbound command frame", zap.Stringer("from", from))
		return
	case protocol.KindPoll:
		// the gateway polls on its own schedule; a poll never answers a request
		s.polls.Add(1)
		if s.cfg.AnswerPolls {
			s.answerPoll()
		}
		return
	}

	if s.deliverResponse(data, from) {
		return
	}

	s.dropped.Add(1)
	s.logger.Debug("Dropping unexpected datagram",
		zap.Stringer("from", from),
		zap.Int("size", len(data)),
	)
}

func (s *Session) deliverResponse(data []byte, from *net.UDPAddr) bool {
	if len(data) == 0 || len(data) > s.cfg.MaxResponseSize {
		return false
	}
	if !from.IP.Equal(s.gateway.IP) {
		return false
	}

	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	if s.waiter == nil {
		return false
	}
	select {
	case s.waiter <- data:
		s.responses.Add(1)
	default:
	}
	s.waiter = nil
	return true
}

func (s *Session) answerPoll() {
	frame := protocol.MustEncode(protocol.Heartbeat(s.now()))
	if err := s.Send(frame); err != nil {
		s.logger.Warn("Failed to answer gateway poll", zap.Error(err))
	}
}

// Close releases the socket. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
