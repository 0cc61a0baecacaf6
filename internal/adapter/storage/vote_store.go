package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"huddle/internal/domain/mood"
)

// VoteStore implements mood vote storage on PostgreSQL. The (moment_id,
// user_id) primary key plus ON CONFLICT DO UPDATE makes the one-vote-per-user
// rule atomic at the database, so concurrent revotes can never leave two rows.
type VoteStore struct {
	db *pgxpool.Pool
}

// NewVoteStore creates a new vote store.
func NewVoteStore(db *pgxpool.Pool) *VoteStore {
	return &VoteStore{db: db}
}

// UpsertVote stores a vote, replacing any prior vote by the same user.
func (s *VoteStore) UpsertVote(ctx context.Context, v mood.Vote) error {
	query := `
		INSERT INTO mood_votes (moment_id, user_id, mood, intensity, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (moment_id, user_id) DO UPDATE
		SET mood = $3, intensity = $4, created_at = $5
	`

	_, err := s.db.Exec(ctx, query, v.MomentID, v.UserID, string(v.Mood), v.Intensity, v.CreatedAt)
	if err != nil {
		return wrapStoreErr("error upserting mood vote", err)
	}

	return nil
}

// ListVotes returns all current votes for a moment, oldest first.
func (s *VoteStore) ListVotes(ctx context.Context, momentID string) ([]mood.Vote, error) {
	query := `
		SELECT moment_id, user_id, mood, intensity, created_at
		FROM mood_votes
		WHERE moment_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(ctx, query, momentID)
	if err != nil {
		return nil, wrapStoreErr("error querying mood votes", err)
	}
	defer rows.Close()

	var votes []mood.Vote
	for rows.Next() {
		var (
			v       mood.Vote
			moodTag string
			created time.Time
		)
		if err := rows.Scan(&v.MomentID, &v.UserID, &moodTag, &v.Intensity, &created); err != nil {
			return nil, fmt.Errorf("error scanning mood vote: %w", err)
		}
		v.Mood = mood.Mood(moodTag)
		v.CreatedAt = created
		votes = append(votes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mood votes: %w", err)
	}

	return votes, nil
}

// DeleteVotesForMoment removes all votes referencing a moment.
func (s *VoteStore) DeleteVotesForMoment(ctx context.Context, momentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM mood_votes WHERE moment_id = $1`, momentID); err != nil {
		return wrapStoreErr("error deleting mood votes", err)
	}
	return nil
}
