package sweeper

import (
	"context"
	"fmt"
	"time"

	"wisefido-doorlock/internal/models"

	"go.uber.org/zap"
)

const DefaultInterval = 60 * time.Second

// ExpiredLister lists relations whose validity window has lapsed.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time) ([]models.CardRoomRelation, error)
}

// Revoker revokes one relation under its room's lock, reporting whether a
// revoke was actually sent.
type Revoker interface {
	RevokeRelation(ctx context.Context, rel models.CardRoomRelation) (bool, error)
}

// Failure one relation the sweep could not revoke.
type Failure struct {
	Relation models.CardRoomRelation
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("room %d slot %d card %s: %v", f.Relation.Room, f.Relation.Slot, f.Relation.CardNumber, f.Err)
}

// Report outcome of one sweep.
type Report struct {
	StartedAt time.Time
	Expired   int
	Revoked   []models.CardRoomRelation
	Skipped   int // gone or replaced before its room lock was taken
	Failed    []Failure
	ListErr   error
}

// OK reports whether every expired relation was dealt with.
func (r Report) OK() bool {
	return r.ListErr == nil && len(r.Failed) == 0
}

// Sweeper revokes cards whose validity window has passed.
type Sweeper struct {
	lister   ExpiredLister
	revoker  Revoker
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onReport func(ctx context.Context, r Report)
}

func New(lister ExpiredLister, revoker Revoker, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		lister:   lister,
		revoker:  revoker,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// OnReport registers fn to receive the report of every scheduled sweep.
// Must be called before Start.
func (s *Sweeper) OnReport(fn func(ctx context.Context, r Report)) {
	s.onReport = fn
}

// Sweep runs one pass. A failed relation never stops the others.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	report := Report{StartedAt: s.now()}

	expired, err := s.lister.ListExpired(ctx, report.StartedAt)
	if err != nil {
		report.ListErr = fmt.Errorf("failed to list expired relations: %w", err)
		return report
	}
	report.Expired = len(expired)

	for _, rel := range expired {
		if ctx.Err() != nil {
			report.Failed = append(report.Failed, Failure{Relation: rel, Err: ctx.Err()})
			continue
		}

		revoked, err := s.revoker.RevokeRelation(ctx, rel)
		if err != nil {
			s.logger.Error("Failed to revoke expired card",
				zap.String("card", rel.CardNumber),
				zap.Int("room", rel.Room),
				zap.Int("slot", int(rel.Slot)),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, Failure{Relation: rel, Err: err})
			continue
		}
		if !revoked {
			report.Skipped++
			continue
		}
		report.Revoked = append(report.Revoked, rel)
	}
	return report
}

// Start sweeps once immediately and then on every interval until ctx ends.
func (s *Sweeper) Start(ctx context.Context) error {
	s.logger.Info("Expiry sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	r := s.Sweep(ctx)
	s.logReport(r)
	if s.onReport != nil {
		s.onReport(ctx, r)
	}
}

func (s *Sweeper) logReport(r Report) {
	if r.ListErr != nil {
		s.logger.Error("Sweep failed", zap.Error(r.ListErr))
		return
	}
	if r.Expired == 0 {
		return
	}
	s.logger.Info("Sweep finished",
		zap.Int("expired", r.Expired),
		zap.Int("revoked", len(r.Revoked)),
		zap.Int("skipped", r.Skipped),
		zap.Int("failed", len(r.Failed)),
	)
}
