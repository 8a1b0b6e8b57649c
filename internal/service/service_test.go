package service

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	rediscommon "wisefido-doorlock/common/redis"
	"wisefido-doorlock/internal/config"
	"wisefido-doorlock/internal/dispatch"
	"wisefido-doorlock/internal/models"
	"wisefido-doorlock/internal/protocol"
	"wisefido-doorlock/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ackingGateway acknowledges every frame it receives.
type ackingGateway struct {
	conn *net.UDPConn

	mu     sync.Mutex
	frames []protocol.Frame
}

func startAckingGateway(t *testing.T) *ackingGateway {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	g := &ackingGateway{conn: conn}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			f, err := protocol.Decode(buf[:n])
			if err != nil {
				continue
			}
			g.mu.Lock()
			g.frames = append(g.frames, f)
			g.mu.Unlock()
			_, _ = conn.WriteToUDP([]byte{1}, from)
		}
	}()
	return g
}

func (g *ackingGateway) port() int {
	return g.conn.LocalAddr().(*net.UDPAddr).Port
}

func (g *ackingGateway) cardCommands(t *testing.T) []protocol.CardCommand {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []protocol.CardCommand
	for _, f := range g.frames {
		cmd, err := protocol.ParseCardCommand(f)
		require.NoError(t, err)
		out = append(out, cmd)
	}
	return out
}

func (g *ackingGateway) sendTelemetry(t *testing.T, to int, statuses map[int]byte) {
	b := make([]byte, 64)
	b[protocol.TelemetryMarkerOffset] = protocol.TelemetryMarker
	for room, v := range statuses {
		b[room*4] = v
	}
	_, err := g.conn.WriteToUDP(b, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: to})
	require.NoError(t, err)
}

type harness struct {
	svc      *DoorlockService
	gateway  *ackingGateway
	store    *repository.MemoryRelationStore
	redis    *redis.Client
	mr       *miniredis.Miniredis
	sessPort int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gw := startAckingGateway(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := config.Default()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = gw.port()
	cfg.Gateway.LocalPort = 0
	cfg.Gateway.RequestTimeout = 300 * time.Millisecond
	cfg.Rooms.Static = []int{5, 12}
	cfg.Sweeper.Enabled = false
	cfg.Notify.Stream.Enabled = true
	cfg.Notify.Cache.Enabled = true
	require.NoError(t, cfg.Validate())

	store := repository.NewMemoryRelationStore()
	svc, err := New(cfg, Stores{Relations: store, Rooms: repository.NewStaticRoomStore(cfg.Rooms.Static)}, client, nil, zap.NewNop())
	require.NoError(t, err)

	return &harness{
		svc:      svc,
		gateway:  gw,
		store:    store,
		redis:    client,
		mr:       mr,
		sessPort: svc.session.LocalAddr().(*net.UDPAddr).Port,
	}
}

func (h *harness) start(t *testing.T) <-chan error {
	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- h.svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		h.svc.Stop(context.Background())
	})
	return done
}

func TestDoorlockService_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sos, err := h.svc.Subscribe("frontdesk", models.FlagSOS)
	require.NoError(t, err)
	done := h.start(t)

	// issue a guest card
	until := time.Now().Add(48 * time.Hour)
	a, err := h.svc.IssueCard(ctx, models.Card{Number: "12345", Role: models.RoleGuest}, 5, time.Time{}, until)
	require.NoError(t, err)
	assert.Equal(t, models.Slot(0), a.Slot)
	assert.Equal(t, []protocol.CardCommand{{Room: 5, Slot: 0, CardNumber: "12345"}}, h.gateway.cardCommands(t))

	// telemetry reaches the subscriber, the tracker, the stream and the cache
	h.gateway.sendTelemetry(t, h.sessPort, map[int]byte{12: 0x81})
	select {
	case ev := <-sos:
		assert.Equal(t, 12, ev.Room)
		assert.Equal(t, models.FlagSOS, ev.Flag)
		assert.True(t, ev.NewValue)
		assert.NotEmpty(t, ev.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("no sos event delivered")
	}

	st, ok := h.svc.RoomStatus(12)
	require.True(t, ok)
	assert.True(t, st.SOS)
	assert.True(t, st.Occupied)

	require.Eventually(t, func() bool {
		msgs, err := rediscommon.ReadRange(ctx, h.redis, "doorlock:status_events", 10)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return h.mr.Exists("doorlock:room:12:status")
	}, 2*time.Second, 20*time.Millisecond)

	// subscriptions are closed once running
	_, err = h.svc.Subscribe("late")
	assert.ErrorIs(t, err, dispatch.ErrFrozen)

	// revoke, then revoke again
	require.NoError(t, h.svc.RevokeCard(ctx, 5, a.Slot))
	require.NoError(t, h.svc.RevokeCard(ctx, 5, a.Slot))
	_, err = h.store.Get(ctx, 5, a.Slot)
	assert.ErrorIs(t, err, repository.ErrRelationNotFound)

	require.NoError(t, h.svc.QueryCard(ctx, 5, 0))

	require.NoError(t, h.svc.Stop(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	_, open := <-sos
	assert.False(t, open)
}

func TestDoorlockService_SweepRevokesOnlyExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t)

	now := time.Now()
	expired := models.CardRoomRelation{CardNumber: "11111", Role: models.RoleHousekeeping, Room: 12, Slot: 3,
		ValidFrom: now.Add(-48 * time.Hour), ValidUntil: now.Add(-time.Minute)}
	current := models.CardRoomRelation{CardNumber: "22222", Role: models.RoleHousekeeping, Room: 12, Slot: 4,
		ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour)}
	require.NoError(t, h.store.Create(ctx, expired))
	require.NoError(t, h.store.Create(ctx, current))

	report := h.svc.Sweep(ctx)
	require.True(t, report.OK())
	require.Len(t, report.Revoked, 1)
	assert.Equal(t, "11111", report.Revoked[0].CardNumber)
	assert.Equal(t, []protocol.CardCommand{{Room: 12, Slot: 3, Revoke: true}}, h.gateway.cardCommands(t))

	_, err := h.store.Get(ctx, 12, 4)
	assert.NoError(t, err)
}

func TestDoorlockService_StartTwice(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.Eventually(t, func() bool {
		h.svc.mu.Lock()
		defer h.svc.mu.Unlock()
		return h.svc.started
	}, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.svc.Start(context.Background()), ErrAlreadyStarted)
}

func TestDoorlockService_StopWaitsForWorkers(t *testing.T) {
	h := newHarness(t)
	sub, err := h.svc.Subscribe("frontdesk")
	require.NoError(t, err)
	done := h.start(t)

	require.Eventually(t, func() bool {
		h.svc.mu.Lock()
		defer h.svc.mu.Unlock()
		return h.svc.started
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Stop(ctx))

	// Start has returned by now; only the hand-off to done remains
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Start still running after Stop returned")
	}
	_, open := <-sub
	assert.False(t, open)
}
