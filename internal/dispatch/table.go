package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wisefido-doorlock/internal/models"

	"go.uber.org/zap"
)

var (
	ErrDuplicateRoute = errors.New("dispatch: route already registered")
	ErrUnknownKind    = errors.New("dispatch: unknown event kind")
	ErrFrozen         = errors.New("dispatch: table is frozen")
)

// Handler consumes one status change event.
type Handler interface {
	Handle(ctx context.Context, event models.StatusChangeEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event models.StatusChangeEvent) error

func (f HandlerFunc) Handle(ctx context.Context, event models.StatusChangeEvent) error {
	return f(ctx, event)
}

// Route one (consumer, kind) entry.
type Route struct {
	Consumer string
	Kind     models.StatusFlag
	handler  Handler
}

// Table maps (consumer, event kind) to a handler. Routes are registered
// while the service is being configured; after Freeze the table is read-only.
type Table struct {
	logger *zap.Logger

	mu     sync.RWMutex
	frozen bool
	routes map[models.StatusFlag][]Route
	seen   map[string]map[models.StatusFlag]bool
}

func NewTable(logger *zap.Logger) *Table {
	return &Table{
		logger: logger,
		routes: make(map[models.StatusFlag][]Route),
		seen:   make(map[string]map[models.StatusFlag]bool),
	}
}

func knownKind(kind models.StatusFlag) bool {
	for _, f := range models.AllFlags {
		if f == kind {
			return true
		}
	}
	return false
}

// Register binds handler to kind for consumer.
func (t *Table) Register(consumer string, kind models.StatusFlag, handler Handler) error {
	if !knownKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return ErrFrozen
	}
	if t.seen[consumer][kind] {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateRoute, consumer, kind)
	}
	if t.seen[consumer] == nil {
		t.seen[consumer] = make(map[models.StatusFlag]bool)
	}
	t.seen[consumer][kind] = true
	t.routes[kind] = append(t.routes[kind], Route{Consumer: consumer, Kind: kind, handler: handler})
	return nil
}

// Subscribe registers handler for each of kinds, or for every kind when none
// are given.
func (t *Table) Subscribe(consumer string, handler Handler, kinds ...models.StatusFlag) error {
	if len(kinds) == 0 {
		kinds = models.AllFlags
	}
	for _, kind := range kinds {
		if err := t.Register(consumer, kind, handler); err != nil {
			return err
		}
	}
	return nil
}

// Freeze stops further registration.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Routes registered routes for kind, in registration order.
func (t *Table) Routes(kind models.StatusFlag) []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.routes[kind]...)
}

// Dispatch delivers event to every handler registered for its kind. A
// failing handler does not stop the others; all failures are returned joined.
func (t *Table) Dispatch(ctx context.Context, event models.StatusChangeEvent) error {
	t.mu.RLock()
	routes := t.routes[event.Flag]
	t.mu.RUnlock()

	var errs []error
	for _, r := range routes {
		if err := r.handler.Handle(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Consumer, err))
		}
	}
	return errors.Join(errs...)
}

// Publish is Dispatch with failures logged.
func (t *Table) Publish(ctx context.Context, event models.StatusChangeEvent) {
	if err := t.Dispatch(ctx, event); err != nil {
		t.logger.Error("Failed to deliver status event",
			zap.String("event_id", event.EventID),
			zap.Int("room", event.Room),
			zap.String("flag", string(event.Flag)),
			zap.Error(err),
		)
	}
}
