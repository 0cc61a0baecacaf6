// Package sweep enforces time-based state transitions and deletions. The
// scheduler is the single authoritative cleanup path; any storage-native TTL
// is treated as best-effort secondary cleanup only.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"huddle/internal/domain/moment"
	"huddle/internal/metrics"
)

// MomentSweeper exposes the lifecycle primitives the scheduler drives.
type MomentSweeper interface {
	ExpireDue(ctx context.Context, batch int) ([]moment.Moment, error)
	ArchiveExpired(ctx context.Context, batch int) (int, error)
	PurgeDue(ctx context.Context, batch int) ([]string, error)
	PruneInactive(ctx context.Context, threshold time.Duration, batch int) (int, error)
}

// VoteSweeper removes mood votes for purged moments.
type VoteSweeper interface {
	DeleteForMoment(ctx context.Context, momentID string) error
}

// ChatSweeper removes chat messages, both by their own expiry and when a
// parent moment is purged.
type ChatSweeper interface {
	DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error)
	DeleteForMoment(ctx context.Context, momentID string) error
}

// RoomCloser drops any remaining viewers of a room whose data is going away.
type RoomCloser interface {
	CloseRoom(momentID, event string, payload any)
}

// Config contains configuration for the expiry scheduler.
type Config struct {
	Interval            time.Duration
	DeepCleanInterval   time.Duration
	BatchSize           int
	InactivityThreshold time.Duration
}

// Scheduler runs the recurring sweep. Every step is idempotent and bounded
// per batch, so a sweep re-run over already-processed data is a no-op and a
// single sweep cannot grow without bound under back-pressure.
type Scheduler struct {
	moments MomentSweeper
	votes   VoteSweeper
	chats   ChatSweeper
	rooms   RoomCloser
	clock   clockwork.Clock
	config  Config
}

// NewScheduler creates a new expiry scheduler.
func NewScheduler(moments MomentSweeper, votes VoteSweeper, chats ChatSweeper, rooms RoomCloser, clock clockwork.Clock, config Config) *Scheduler {
	return &Scheduler{
		moments: moments,
		votes:   votes,
		chats:   chats,
		rooms:   rooms,
		clock:   clock,
		config:  config,
	}
}

// Run executes sweeps on the configured intervals until ctx is cancelled.
// Sweeps run on this independent loop, never on the request path.
func (s *Scheduler) Run(ctx context.Context) {
	sweepTicker := s.clock.NewTicker(s.config.Interval)
	defer sweepTicker.Stop()
	deepTicker := s.clock.NewTicker(s.config.DeepCleanInterval)
	defer deepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.Chan():
			if err := s.Sweep(ctx); err != nil {
				slog.Error("sweep failed", "error", err)
			}
		case <-deepTicker.Chan():
			if err := s.DeepClean(ctx); err != nil {
				slog.Error("deep clean failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass of the four sweep steps: expire due moments, purge
// moments past retention with their dependents, delete expired chat
// messages, and prune inactive participants.
func (s *Scheduler) Sweep(ctx context.Context) error {
	expired, err := s.moments.ExpireDue(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		slog.Info("expired moments", "count", len(expired))
	}

	purged, err := s.moments.PurgeDue(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}
	for _, momentID := range purged {
		if err := s.votes.DeleteForMoment(ctx, momentID); err != nil {
			slog.Warn("failed to delete votes for purged moment", "moment_id", momentID, "error", err)
		}
		if err := s.chats.DeleteForMoment(ctx, momentID); err != nil {
			slog.Warn("failed to delete chat for purged moment", "moment_id", momentID, "error", err)
		}
		if s.rooms != nil {
			s.rooms.CloseRoom(momentID, "momentPurged", map[string]any{"moment_id": momentID})
		}
	}
	if len(purged) > 0 {
		slog.Info("purged moments", "count", len(purged))
	}

	deleted, err := s.chats.DeleteExpired(ctx, s.clock.Now(), s.config.BatchSize)
	if err != nil {
		return err
	}
	if deleted > 0 {
		metrics.SweepMessagesDeleted.Add(float64(deleted))
		slog.Info("deleted expired chat messages", "count", deleted)
	}

	pruned, err := s.moments.PruneInactive(ctx, s.config.InactivityThreshold, s.config.BatchSize)
	if err != nil {
		return err
	}
	if pruned > 0 {
		slog.Info("pruned inactive participants", "count", pruned)
	}

	return nil
}

// DeepClean promotes expired moments to archived. Runs on the slower daily
// cadence; archival is a pure flag flip with data retained.
func (s *Scheduler) DeepClean(ctx context.Context) error {
	archived, err := s.moments.ArchiveExpired(ctx, s.config.BatchSize)
	if err != nil {
		return err
	}
	if archived > 0 {
		slog.Info("archived moments", "count", archived)
	}
	return nil
}
