// Package moments implements the lifecycle engine for moments and their posts.
package moments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"huddle/internal/apperr"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
	"huddle/internal/geo"
	"huddle/internal/metrics"
)

// Store defines the storage interface for moments and posts.
type Store interface {
	// ActiveMomentsNear returns active moments near a point; implementations
	// may over-approximate the radius (the geo index re-checks distances).
	ActiveMomentsNear(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]moment.Moment, error)

	// SaveMoment upserts a moment including its embedded participant set.
	SaveMoment(ctx context.Context, m moment.Moment) error

	// GetMoment retrieves a moment by ID, or an apperr.KindNotFound error.
	GetMoment(ctx context.Context, id string) (*moment.Moment, error)

	// DeleteMoment removes a moment record. Deleting a missing moment is a no-op.
	DeleteMoment(ctx context.Context, id string) error

	// ListWithStatus returns up to limit moments in the given status.
	ListWithStatus(ctx context.Context, status moment.Status, limit int) ([]moment.Moment, error)

	// ListExpired returns up to limit active moments whose window has elapsed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]moment.Moment, error)

	// ListPurgeable returns up to limit expired/archived moments whose expiry
	// is at or before cutoff.
	ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]moment.Moment, error)

	// SavePost upserts a post.
	SavePost(ctx context.Context, p moment.Post) error

	// GetPost retrieves a post by ID within a moment, or apperr.KindNotFound.
	GetPost(ctx context.Context, momentID, postID string) (*moment.Post, error)

	// ListPosts returns up to limit posts for a moment, newest first.
	ListPosts(ctx context.Context, momentID string, limit int) ([]moment.Post, error)

	// DeletePostsForMoment removes all posts owned by a moment.
	DeletePostsForMoment(ctx context.Context, momentID string) error
}

// EventPublisher publishes domain events to the event bus. *nats.Conn
// satisfies this interface.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// RoomBroadcaster fans events out to the live room of a moment.
type RoomBroadcaster interface {
	Broadcast(momentID, event string, payload any)
}

// Config contains configuration for the moment service.
type Config struct {
	JoinRadiusMeters  float64
	DiscoveryRadiusKm float64
	Window            time.Duration
	Retention         time.Duration
	MaxPostLength     int
	EventsTopic       string
}

// Service owns moment and post lifecycle and mutation.
type Service struct {
	store       Store
	index       *geo.Index
	events      EventPublisher
	clock       clockwork.Clock
	config      Config
	broadcaster RoomBroadcaster

	mu          sync.Mutex
	cellLocks   map[string]*sync.Mutex
	momentLocks map[string]*sync.Mutex
}

// NewService creates a new moment service.
func NewService(store Store, index *geo.Index, events EventPublisher, clock clockwork.Clock, config Config) *Service {
	return &Service{
		store:       store,
		index:       index,
		events:      events,
		clock:       clock,
		config:      config,
		cellLocks:   make(map[string]*sync.Mutex),
		momentLocks: make(map[string]*sync.Mutex),
	}
}

// SetBroadcaster wires the live room broadcaster. Called once at startup,
// after the presence hub (which depends on this service) exists.
func (s *Service) SetBroadcaster(b RoomBroadcaster) {
	s.broadcaster = b
}

// CreateOrJoin resolves coordinates to an existing nearby moment or creates
// a new one with the caller as sole participant. Creation for the same
// geocell is serialized so concurrent requests at one physical location
// cannot create duplicate moments; losers of the race join the winner.
func (s *Service) CreateOrJoin(ctx context.Context, lat, lng float64, userID string) (*moment.Moment, bool, error) {
	if userID == "" {
		return nil, false, apperr.Unauthenticated("missing anonymous identity")
	}
	if err := validateCoordinates(lat, lng); err != nil {
		return nil, false, err
	}

	cell := geo.Cell(lat, lng)
	unlock := s.lock(s.cellLocks, cell)
	defer unlock()

	found, err := s.index.FindNearby(ctx, lat, lng, s.config.JoinRadiusMeters)
	if err != nil {
		return nil, false, err
	}

	if found != nil {
		joined, err := s.AddParticipant(ctx, found.ID, userID)
		if err != nil {
			return nil, false, err
		}
		return joined, false, nil
	}

	now := s.clock.Now()
	m := moment.Moment{
		ID:        uuid.New().String(),
		Latitude:  lat,
		Longitude: lng,
		Status:    moment.StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.Window),
		Participants: map[string]moment.Participant{
			userID: {UserID: userID, JoinedAt: now, LastActiveAt: now},
		},
	}

	if err := s.store.SaveMoment(ctx, m); err != nil {
		return nil, false, fmt.Errorf("error saving moment: %w", err)
	}

	metrics.MomentsCreated.Inc()
	s.publish("created", map[string]any{
		"id":         m.ID,
		"latitude":   m.Latitude,
		"longitude":  m.Longitude,
		"expires_at": m.ExpiresAt,
	})

	return &m, true, nil
}

// Get returns a moment by ID. Reads are retried once on store unavailability.
func (s *Service) Get(ctx context.Context, id string) (*moment.Moment, error) {
	m, err := s.store.GetMoment(ctx, id)
	if apperr.IsKind(err, apperr.KindUnavailable) {
		m, err = s.store.GetMoment(ctx, id)
	}
	return m, err
}

// Discover lists active moments near a point using the same distance formula
// as create-or-join matching.
func (s *Service) Discover(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]moment.Moment, error) {
	if err := validateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = s.config.DiscoveryRadiusKm
	}
	return s.index.Discover(ctx, lat, lng, radiusKm, limit)
}

// AddParticipant adds a user to a moment's participant set. Re-adding an
// existing participant only refreshes lastActiveAt.
func (s *Service) AddParticipant(ctx context.Context, momentID, userID string) (*moment.Moment, error) {
	if userID == "" {
		return nil, apperr.Unauthenticated("missing anonymous identity")
	}

	unlock := s.lock(s.momentLocks, momentID)
	defer unlock()

	m, err := s.store.GetMoment(ctx, momentID)
	if err != nil {
		return nil, err
	}
	if !m.Writable() {
		return nil, apperr.Inactive("moment is no longer active")
	}

	now := s.clock.Now()
	joined := m.IsParticipant(userID)

	p := m.Participants[userID]
	if !joined {
		p = moment.Participant{UserID: userID, JoinedAt: now}
	}
	p.LastActiveAt = now
	m.Participants[userID] = p
	m.Inactive = false

	if err := s.store.SaveMoment(ctx, *m); err != nil {
		return nil, fmt.Errorf("error saving moment: %w", err)
	}

	if !joined {
		s.publish("participant.joined", map[string]any{
			"moment_id": m.ID,
			"user_id":   userID,
			"count":     m.ParticipantCount(),
		})
	}

	return m, nil
}

// RemoveParticipant removes a user from a moment's participant set. Removing
// an already-removed user is a no-op. Removing the last participant flips
// the moment inactive (a sub-state of active, not expiry).
func (s *Service) RemoveParticipant(ctx context.Context, momentID, userID string) (*moment.Moment, error) {
	unlock := s.lock(s.momentLocks, momentID)
	defer unlock()

	m, err := s.store.GetMoment(ctx, momentID)
	if err != nil {
		return nil, err
	}
	if !m.Writable() {
		return nil, apperr.Inactive("moment is no longer active")
	}

	if !m.IsParticipant(userID) {
		return m, nil
	}

	delete(m.Participants, userID)
	if m.ParticipantCount() == 0 {
		m.Inactive = true
	}

	if err := s.store.SaveMoment(ctx, *m); err != nil {
		return nil, fmt.Errorf("error saving moment: %w", err)
	}

	s.publish("participant.left", map[string]any{
		"moment_id": m.ID,
		"user_id":   userID,
		"count":     m.ParticipantCount(),
	})

	return m, nil
}

// AddPost adds a post to a moment and increments its post counter.
func (s *Service) AddPost(ctx context.Context, momentID, authorID, text string, moodTag mood.Mood, mediaURL string) (*moment.Post, error) {
	if authorID == "" {
		return nil, apperr.Unauthenticated("missing anonymous identity")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("post text must not be empty")
	}
	if len(text) > s.config.MaxPostLength {
		return nil, apperr.Validation(fmt.Sprintf("post text exceeds %d characters", s.config.MaxPostLength))
	}
	if moodTag != "" && !mood.Valid(moodTag) {
		return nil, apperr.Validation("unknown mood tag")
	}

	unlock := s.lock(s.momentLocks, momentID)
	defer unlock()

	m, err := s.store.GetMoment(ctx, momentID)
	if err != nil {
		return nil, err
	}
	if !m.Writable() {
		return nil, apperr.Inactive("moment is no longer active")
	}
	if !m.IsParticipant(authorID) {
		return nil, apperr.NotParticipant("author has not joined this moment")
	}

	now := s.clock.Now()
	p := moment.Post{
		ID:        uuid.New().String(),
		MomentID:  momentID,
		AuthorID:  authorID,
		Text:      text,
		Mood:      moodTag,
		MediaURL:  mediaURL,
		CreatedAt: now,
	}

	if err := s.store.SavePost(ctx, p); err != nil {
		return nil, fmt.Errorf("error saving post: %w", err)
	}

	m.PostCount++
	participant := m.Participants[authorID]
	participant.LastActiveAt = now
	m.Participants[authorID] = participant
	if err := s.store.SaveMoment(ctx, *m); err != nil {
		return nil, fmt.Errorf("error saving moment: %w", err)
	}

	s.publish("post.created", map[string]any{
		"moment_id": momentID,
		"post_id":   p.ID,
	})
	s.broadcast(momentID, "newPost", p)

	return &p, nil
}

// ListPosts returns posts for a moment, newest first.
func (s *Service) ListPosts(ctx context.Context, momentID string, limit int) ([]moment.Post, error) {
	if _, err := s.Get(ctx, momentID); err != nil {
		return nil, err
	}
	return s.store.ListPosts(ctx, momentID, limit)
}

// ReactToPost records a reaction to a post. A post carries at most one
// reaction per user; re-reacting replaces the previous type.
func (s *Service) ReactToPost(ctx context.Context, momentID, postID, userID, reaction string) (*moment.Post, error) {
	if userID == "" {
		return nil, apperr.Unauthenticated("missing anonymous identity")
	}
	reaction = strings.TrimSpace(reaction)
	if reaction == "" || len(reaction) > 16 {
		return nil, apperr.Validation("invalid reaction")
	}

	unlock := s.lock(s.momentLocks, momentID)
	defer unlock()

	m, err := s.store.GetMoment(ctx, momentID)
	if err != nil {
		return nil, err
	}
	if !m.Writable() {
		return nil, apperr.Inactive("moment is no longer active")
	}
	if !m.IsParticipant(userID) {
		return nil, apperr.NotParticipant("user has not joined this moment")
	}

	p, err := s.store.GetPost(ctx, momentID, postID)
	if err != nil {
		return nil, err
	}

	if p.Reactions == nil {
		p.Reactions = make(map[string]string)
	}
	p.Reactions[userID] = reaction

	if err := s.store.SavePost(ctx, *p); err != nil {
		return nil, fmt.Errorf("error saving post: %w", err)
	}

	return p, nil
}

// ExpireDue transitions active moments past their window to expired.
// Idempotent; re-running on already-expired moments is a no-op. Rooms are
// notified before the flip so connected participants learn the moment
// became read-only.
func (s *Service) ExpireDue(ctx context.Context, batch int) ([]moment.Moment, error) {
	now := s.clock.Now()

	due, err := s.store.ListExpired(ctx, now, batch)
	if err != nil {
		return nil, fmt.Errorf("error listing expirable moments: %w", err)
	}

	var flipped []moment.Moment
	for _, stale := range due {
		unlock := s.lock(s.momentLocks, stale.ID)

		m, err := s.store.GetMoment(ctx, stale.ID)
		if err != nil {
			unlock()
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return flipped, err
		}
		if m.Status != moment.StatusActive || now.Before(m.ExpiresAt) {
			unlock()
			continue
		}

		s.broadcast(m.ID, "momentExpired", map[string]any{
			"moment_id":  m.ID,
			"expires_at": m.ExpiresAt,
		})

		m.Status = moment.StatusExpired
		if err := s.store.SaveMoment(ctx, *m); err != nil {
			unlock()
			return flipped, fmt.Errorf("error saving expired moment: %w", err)
		}
		unlock()

		metrics.SweepExpired.Inc()
		s.publish("lifecycle.changed", map[string]any{
			"moment_id": m.ID,
			"status":    m.Status,
		})
		flipped = append(flipped, *m)
	}

	return flipped, nil
}

// ArchiveExpired promotes expired moments to archived. Archived moments stay
// queryable and viewable read-only until purged.
func (s *Service) ArchiveExpired(ctx context.Context, batch int) (int, error) {
	expired, err := s.store.ListWithStatus(ctx, moment.StatusExpired, batch)
	if err != nil {
		return 0, fmt.Errorf("error listing expired moments: %w", err)
	}

	archived := 0
	for _, stale := range expired {
		unlock := s.lock(s.momentLocks, stale.ID)

		m, err := s.store.GetMoment(ctx, stale.ID)
		if err != nil {
			unlock()
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return archived, err
		}
		if m.Status != moment.StatusExpired {
			unlock()
			continue
		}

		m.Status = moment.StatusArchived
		if err := s.store.SaveMoment(ctx, *m); err != nil {
			unlock()
			return archived, fmt.Errorf("error saving archived moment: %w", err)
		}
		unlock()

		s.publish("lifecycle.changed", map[string]any{
			"moment_id": m.ID,
			"status":    m.Status,
		})
		archived++
	}

	return archived, nil
}

// PurgeDue hard-deletes expired/archived moments past the retention window
// together with their posts, and returns the purged IDs so callers can clear
// dependent records (votes, chat). Idempotent.
func (s *Service) PurgeDue(ctx context.Context, batch int) ([]string, error) {
	cutoff := s.clock.Now().Add(-s.config.Retention)

	due, err := s.store.ListPurgeable(ctx, cutoff, batch)
	if err != nil {
		return nil, fmt.Errorf("error listing purgeable moments: %w", err)
	}

	var purged []string
	for _, m := range due {
		unlock := s.lock(s.momentLocks, m.ID)

		if err := s.store.DeletePostsForMoment(ctx, m.ID); err != nil {
			unlock()
			return purged, fmt.Errorf("error deleting posts for moment %s: %w", m.ID, err)
		}
		if err := s.store.DeleteMoment(ctx, m.ID); err != nil {
			unlock()
			return purged, fmt.Errorf("error deleting moment %s: %w", m.ID, err)
		}
		unlock()

		metrics.SweepPurged.Inc()
		s.publish("purged", map[string]any{"moment_id": m.ID})
		purged = append(purged, m.ID)
	}

	return purged, nil
}

// PruneInactive drops participants whose lastActiveAt is older than the
// threshold from active moments. A moment emptied this way flips inactive
// but not expired; time-based expiry still governs the hard transition.
func (s *Service) PruneInactive(ctx context.Context, threshold time.Duration, batch int) (int, error) {
	cutoff := s.clock.Now().Add(-threshold)

	active, err := s.store.ListWithStatus(ctx, moment.StatusActive, batch)
	if err != nil {
		return 0, fmt.Errorf("error listing active moments: %w", err)
	}

	pruned := 0
	for _, stale := range active {
		unlock := s.lock(s.momentLocks, stale.ID)

		m, err := s.store.GetMoment(ctx, stale.ID)
		if err != nil {
			unlock()
			if apperr.IsKind(err, apperr.KindNotFound) {
				continue
			}
			return pruned, err
		}

		changed := false
		for userID, p := range m.Participants {
			if p.LastActiveAt.Before(cutoff) {
				delete(m.Participants, userID)
				changed = true
				pruned++
				metrics.SweepParticipantsPruned.Inc()
			}
		}

		if changed {
			if m.ParticipantCount() == 0 {
				m.Inactive = true
			}
			if err := s.store.SaveMoment(ctx, *m); err != nil {
				unlock()
				return pruned, fmt.Errorf("error saving pruned moment: %w", err)
			}
		}
		unlock()
	}

	return pruned, nil
}

// lock acquires the named mutex from the given lock table, creating it on
// first use, and returns its unlock func.
func (s *Service) lock(table map[string]*sync.Mutex, key string) func() {
	s.mu.Lock()
	mu, ok := table[key]
	if !ok {
		mu = &sync.Mutex{}
		table[key] = mu
	}
	s.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *Service) publish(eventType string, payload map[string]any) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("failed to marshal moment event", "event", eventType, "error", err)
		return
	}

	topic := fmt.Sprintf("%s.%s", s.config.EventsTopic, eventType)
	if err := s.events.Publish(topic, data); err != nil {
		slog.Warn("failed to publish moment event", "topic", topic, "error", err)
	}
}

func (s *Service) broadcast(momentID, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(momentID, event, payload)
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return apperr.Validation("latitude out of range")
	}
	if lng < -180 || lng > 180 {
		return apperr.Validation("longitude out of range")
	}
	return nil
}
