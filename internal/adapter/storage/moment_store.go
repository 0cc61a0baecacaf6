// Package storage implements the persistence interfaces on PostgreSQL with
// PostGIS. Proximity queries use ST_DWithin as a prefilter only; the exact
// co-location decision always happens in the geo index so matching cannot
// drift between creation and discovery.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"huddle/internal/apperr"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
)

// MomentStore implements storage for moments and posts.
type MomentStore struct {
	db *pgxpool.Pool
}

// NewMomentStore creates a new moment store.
func NewMomentStore(db *pgxpool.Pool) *MomentStore {
	return &MomentStore{db: db}
}

// dwithinPadding widens the SQL prefilter so geodesic differences between
// PostGIS geography distance and the index's haversine can never exclude a
// true match.
const dwithinPadding = 1.05

// ActiveMomentsNear returns active, non-expired moments within roughly
// radiusMeters of the point.
func (s *MomentStore) ActiveMomentsNear(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]moment.Moment, error) {
	query := `
		SELECT
			id, name, status, inactive, created_at, expires_at, post_count,
			ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
			participants
		FROM moments
		WHERE status = 'active'
		AND expires_at > $4
		AND ST_DWithin(geography(location), geography(ST_MakePoint($1, $2)), $3)
		ORDER BY created_at DESC
	`

	rows, err := s.db.Query(ctx, query, lng, lat, radiusMeters*dwithinPadding+10, now)
	if err != nil {
		return nil, wrapStoreErr("error querying nearby moments", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// SaveMoment saves a moment to storage.
func (s *MomentStore) SaveMoment(ctx context.Context, m moment.Moment) error {
	query := `
		INSERT INTO moments (
			id, name, status, inactive, created_at, expires_at, post_count,
			location, participants
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			ST_MakePoint($8, $9)::geography, $10
		)
		ON CONFLICT (id) DO UPDATE
		SET
			name = $2,
			status = $3,
			inactive = $4,
			post_count = $7,
			participants = $10
	`

	participantsJSON, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("error marshaling participants: %w", err)
	}

	_, err = s.db.Exec(
		ctx,
		query,
		m.ID,
		m.Name,
		string(m.Status),
		m.Inactive,
		m.CreatedAt,
		m.ExpiresAt,
		m.PostCount,
		m.Longitude,
		m.Latitude,
		participantsJSON,
	)
	if err != nil {
		return wrapStoreErr("error saving moment", err)
	}

	return nil
}

// GetMoment retrieves a moment by ID.
func (s *MomentStore) GetMoment(ctx context.Context, id string) (*moment.Moment, error) {
	query := `
		SELECT
			id, name, status, inactive, created_at, expires_at, post_count,
			ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
			participants
		FROM moments
		WHERE id = $1
	`

	m, err := scanMoment(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("moment not found")
		}
		return nil, wrapStoreErr("error querying moment", err)
	}

	return m, nil
}

// DeleteMoment removes a moment record.
func (s *MomentStore) DeleteMoment(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM moments WHERE id = $1`, id); err != nil {
		return wrapStoreErr("error deleting moment", err)
	}
	return nil
}

// ListWithStatus returns up to limit moments in the given status.
func (s *MomentStore) ListWithStatus(ctx context.Context, status moment.Status, limit int) ([]moment.Moment, error) {
	query := `
		SELECT
			id, name, status, inactive, created_at, expires_at, post_count,
			ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
			participants
		FROM moments
		WHERE status = $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, wrapStoreErr("error querying moments by status", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// ListExpired returns up to limit active moments whose window has elapsed.
func (s *MomentStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]moment.Moment, error) {
	query := `
		SELECT
			id, name, status, inactive, created_at, expires_at, post_count,
			ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
			participants
		FROM moments
		WHERE status = 'active'
		AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, wrapStoreErr("error querying expired moments", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// ListPurgeable returns up to limit expired/archived moments whose expiry is
// at or before cutoff.
func (s *MomentStore) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]moment.Moment, error) {
	query := `
		SELECT
			id, name, status, inactive, created_at, expires_at, post_count,
			ST_Y(location::geometry) AS lat, ST_X(location::geometry) AS lng,
			participants
		FROM moments
		WHERE status IN ('expired', 'archived')
		AND expires_at <= $1
		ORDER BY expires_at ASC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, wrapStoreErr("error querying purgeable moments", err)
	}
	defer rows.Close()

	return scanMoments(rows)
}

// SavePost saves a post to storage.
func (s *MomentStore) SavePost(ctx context.Context, p moment.Post) error {
	query := `
		INSERT INTO posts (
			id, moment_id, author_id, text, mood, media_url, reactions, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE
		SET reactions = $7
	`

	reactionsJSON, err := json.Marshal(p.Reactions)
	if err != nil {
		return fmt.Errorf("error marshaling reactions: %w", err)
	}

	_, err = s.db.Exec(
		ctx,
		query,
		p.ID,
		p.MomentID,
		p.AuthorID,
		p.Text,
		string(p.Mood),
		p.MediaURL,
		reactionsJSON,
		p.CreatedAt,
	)
	if err != nil {
		return wrapStoreErr("error saving post", err)
	}

	return nil
}

// GetPost retrieves a post by ID within a moment.
func (s *MomentStore) GetPost(ctx context.Context, momentID, postID string) (*moment.Post, error) {
	query := `
		SELECT id, moment_id, author_id, text, mood, media_url, reactions, created_at
		FROM posts
		WHERE moment_id = $1 AND id = $2
	`

	p, err := scanPost(s.db.QueryRow(ctx, query, momentID, postID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("post not found")
		}
		return nil, wrapStoreErr("error querying post", err)
	}

	return p, nil
}

// ListPosts returns up to limit posts for a moment, newest first.
func (s *MomentStore) ListPosts(ctx context.Context, momentID string, limit int) ([]moment.Post, error) {
	query := `
		SELECT id, moment_id, author_id, text, mood, media_url, reactions, created_at
		FROM posts
		WHERE moment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, momentID, limit)
	if err != nil {
		return nil, wrapStoreErr("error querying posts", err)
	}
	defer rows.Close()

	var posts []moment.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning post: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating posts: %w", err)
	}

	return posts, nil
}

// DeletePostsForMoment removes all posts owned by a moment.
func (s *MomentStore) DeletePostsForMoment(ctx context.Context, momentID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM posts WHERE moment_id = $1`, momentID); err != nil {
		return wrapStoreErr("error deleting posts", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMoment(row rowScanner) (*moment.Moment, error) {
	var (
		mo               moment.Moment
		status           string
		lat, lng         *float64
		participantsJSON []byte
	)

	err := row.Scan(
		&mo.ID,
		&mo.Name,
		&status,
		&mo.Inactive,
		&mo.CreatedAt,
		&mo.ExpiresAt,
		&mo.PostCount,
		&lat,
		&lng,
		&participantsJSON,
	)
	if err != nil {
		return nil, err
	}

	mo.Status = moment.Status(status)
	if lat != nil && lng != nil {
		mo.Latitude = *lat
		mo.Longitude = *lng
	}
	if err := json.Unmarshal(participantsJSON, &mo.Participants); err != nil {
		return nil, fmt.Errorf("error unmarshaling participants: %w", err)
	}
	if mo.Participants == nil {
		mo.Participants = make(map[string]moment.Participant)
	}

	return &mo, nil
}

func scanMoments(rows pgx.Rows) ([]moment.Moment, error) {
	var moments []moment.Moment
	for rows.Next() {
		m, err := scanMoment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning moment: %w", err)
		}
		moments = append(moments, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating moments: %w", err)
	}
	return moments, nil
}

func scanPost(row rowScanner) (*moment.Post, error) {
	var (
		p             moment.Post
		moodTag       string
		reactionsJSON []byte
	)

	err := row.Scan(
		&p.ID,
		&p.MomentID,
		&p.AuthorID,
		&p.Text,
		&moodTag,
		&p.MediaURL,
		&reactionsJSON,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Mood = mood.Mood(moodTag)
	if len(reactionsJSON) > 0 {
		if err := json.Unmarshal(reactionsJSON, &p.Reactions); err != nil {
			return nil, fmt.Errorf("error unmarshaling reactions: %w", err)
		}
	}

	return &p, nil
}

// wrapStoreErr maps timeouts to the unavailable kind and wraps the rest.
func wrapStoreErr(message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Unavailable(message, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}
