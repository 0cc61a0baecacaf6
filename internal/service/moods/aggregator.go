// Package moods aggregates per-moment mood votes into live summaries.
package moods

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"huddle/internal/apperr"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
)

// VoteStore defines the storage interface for mood votes.
type VoteStore interface {
	// UpsertVote stores a vote, replacing any prior vote for the same
	// (moment, user) pair atomically.
	UpsertVote(ctx context.Context, v mood.Vote) error

	// ListVotes returns all current votes for a moment.
	ListVotes(ctx context.Context, momentID string) ([]mood.Vote, error)

	// DeleteVotesForMoment removes all votes referencing a moment.
	DeleteVotesForMoment(ctx context.Context, momentID string) error
}

// MomentDirectory provides the moment lookups needed to validate votes.
type MomentDirectory interface {
	Get(ctx context.Context, id string) (*moment.Moment, error)
}

// RoomBroadcaster fans mood updates out to the live room of a moment.
type RoomBroadcaster interface {
	Broadcast(momentID, event string, payload any)
}

// Aggregator computes and serves mood summaries. Summaries are recomputed
// synchronously on every vote because the room broadcast needs the fresh
// value immediately.
type Aggregator struct {
	store       VoteStore
	moments     MomentDirectory
	broadcaster RoomBroadcaster
	clock       clockwork.Clock
}

// NewAggregator creates a new mood aggregator.
func NewAggregator(store VoteStore, moments MomentDirectory, broadcaster RoomBroadcaster, clock clockwork.Clock) *Aggregator {
	return &Aggregator{
		store:       store,
		moments:     moments,
		broadcaster: broadcaster,
		clock:       clock,
	}
}

// RecordVote upserts the user's single vote for a moment, recomputes the
// summary and returns it. A second vote from the same user overwrites the
// prior mood, intensity and timestamp rather than creating a duplicate.
func (a *Aggregator) RecordVote(ctx context.Context, momentID, userID string, m mood.Mood, intensity int) (mood.Summary, error) {
	if userID == "" {
		return mood.Summary{}, apperr.Unauthenticated("missing anonymous identity")
	}
	if !mood.Valid(m) {
		return mood.Summary{}, apperr.Validation("unknown mood")
	}
	if intensity < mood.MinIntensity || intensity > mood.MaxIntensity {
		return mood.Summary{}, apperr.Validation(fmt.Sprintf("intensity must be between %d and %d", mood.MinIntensity, mood.MaxIntensity))
	}

	mo, err := a.moments.Get(ctx, momentID)
	if err != nil {
		return mood.Summary{}, err
	}
	if !mo.Writable() {
		return mood.Summary{}, apperr.Inactive("moment is no longer active")
	}

	vote := mood.Vote{
		MomentID:  momentID,
		UserID:    userID,
		Mood:      m,
		Intensity: intensity,
		CreatedAt: a.clock.Now(),
	}
	if err := a.store.UpsertVote(ctx, vote); err != nil {
		return mood.Summary{}, fmt.Errorf("error upserting vote: %w", err)
	}

	summary, err := a.Summary(ctx, momentID)
	if err != nil {
		return mood.Summary{}, err
	}

	if a.broadcaster != nil {
		a.broadcaster.Broadcast(momentID, "moodUpdated", summary)
	}

	return summary, nil
}

// Summary computes the current mood summary for a moment: total votes,
// bounded per-mood counts and the top-3 dominant moods. With zero votes the
// dominant list is empty and percentages are zero, never NaN.
func (a *Aggregator) Summary(ctx context.Context, momentID string) (mood.Summary, error) {
	votes, err := a.store.ListVotes(ctx, momentID)
	if err != nil {
		return mood.Summary{}, fmt.Errorf("error listing votes: %w", err)
	}
	return computeSummary(momentID, votes), nil
}

// DeleteForMoment removes all votes for a moment. Used by the purge sweep.
func (a *Aggregator) DeleteForMoment(ctx context.Context, momentID string) error {
	return a.store.DeleteVotesForMoment(ctx, momentID)
}

// computeSummary folds votes over the closed mood set. Dominant moods are
// ranked by count, ties broken by the earliest-recorded vote for each mood.
func computeSummary(momentID string, votes []mood.Vote) mood.Summary {
	counts := make(map[mood.Mood]int, len(mood.All))
	earliest := make(map[mood.Mood]time.Time, len(mood.All))
	for _, known := range mood.All {
		counts[known] = 0
	}

	total := 0
	for _, v := range votes {
		if _, known := counts[v.Mood]; !known {
			continue
		}
		counts[v.Mood]++
		total++
		if first, ok := earliest[v.Mood]; !ok || v.CreatedAt.Before(first) {
			earliest[v.Mood] = v.CreatedAt
		}
	}

	summary := mood.Summary{
		MomentID:   momentID,
		TotalVotes: total,
		Counts:     counts,
	}
	if total == 0 {
		return summary
	}

	var ranked []mood.DominantMood
	for _, known := range mood.All {
		if counts[known] == 0 {
			continue
		}
		// Truncating keeps the ranked percentages from ever summing past 100.
		ranked = append(ranked, mood.DominantMood{
			Mood:       known,
			Count:      counts[known],
			Percentage: counts[known] * 100 / total,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return earliest[ranked[i].Mood].Before(earliest[ranked[j].Mood])
	})

	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	summary.Dominant = ranked

	return summary
}
