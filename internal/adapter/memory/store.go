// Package memory provides in-memory store implementations. They back unit
// tests and local development; production wiring uses the postgres and redis
// adapters.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"huddle/internal/apperr"
	"huddle/internal/domain/chat"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
)

// MomentStore is an in-memory implementation of the moment storage interface.
type MomentStore struct {
	mu      sync.RWMutex
	moments map[string]moment.Moment
	posts   map[string]map[string]moment.Post
}

// NewMomentStore creates an empty in-memory moment store.
func NewMomentStore() *MomentStore {
	return &MomentStore{
		moments: make(map[string]moment.Moment),
		posts:   make(map[string]map[string]moment.Post),
	}
}

func (s *MomentStore) ActiveMomentsNear(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]moment.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Over-approximates by returning every active moment; the geo index
	// applies the exact distance check.
	var result []moment.Moment
	for _, m := range s.moments {
		if m.Status == moment.StatusActive && now.Before(m.ExpiresAt) {
			result = append(result, copyMoment(m))
		}
	}
	return result, nil
}

func (s *MomentStore) SaveMoment(ctx context.Context, m moment.Moment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.moments[m.ID] = copyMoment(m)
	return nil
}

func (s *MomentStore) GetMoment(ctx context.Context, id string) (*moment.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.moments[id]
	if !ok {
		return nil, apperr.NotFound("moment not found")
	}
	found := copyMoment(m)
	return &found, nil
}

func (s *MomentStore) DeleteMoment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.moments, id)
	return nil
}

func (s *MomentStore) ListWithStatus(ctx context.Context, status moment.Status, limit int) ([]moment.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moment.Moment
	for _, m := range s.moments {
		if m.Status != status {
			continue
		}
		result = append(result, copyMoment(m))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MomentStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]moment.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moment.Moment
	for _, m := range s.moments {
		if m.Status != moment.StatusActive || now.Before(m.ExpiresAt) {
			continue
		}
		result = append(result, copyMoment(m))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MomentStore) ListPurgeable(ctx context.Context, cutoff time.Time, limit int) ([]moment.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moment.Moment
	for _, m := range s.moments {
		if m.Status != moment.StatusExpired && m.Status != moment.StatusArchived {
			continue
		}
		if m.ExpiresAt.After(cutoff) {
			continue
		}
		result = append(result, copyMoment(m))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MomentStore) SavePost(ctx context.Context, p moment.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.posts[p.MomentID]
	if !ok {
		byID = make(map[string]moment.Post)
		s.posts[p.MomentID] = byID
	}
	byID[p.ID] = copyPost(p)
	return nil
}

func (s *MomentStore) GetPost(ctx context.Context, momentID, postID string) (*moment.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[momentID][postID]
	if !ok {
		return nil, apperr.NotFound("post not found")
	}
	found := copyPost(p)
	return &found, nil
}

func (s *MomentStore) ListPosts(ctx context.Context, momentID string, limit int) ([]moment.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []moment.Post
	for _, p := range s.posts[momentID] {
		result = append(result, copyPost(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MomentStore) DeletePostsForMoment(ctx context.Context, momentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.posts, momentID)
	return nil
}

// PostCountFor reports how many posts are stored for a moment. Test helper.
func (s *MomentStore) PostCountFor(momentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts[momentID])
}

func copyMoment(m moment.Moment) moment.Moment {
	participants := make(map[string]moment.Participant, len(m.Participants))
	for id, p := range m.Participants {
		participants[id] = p
	}
	m.Participants = participants
	return m
}

func copyPost(p moment.Post) moment.Post {
	if p.Reactions != nil {
		reactions := make(map[string]string, len(p.Reactions))
		for id, r := range p.Reactions {
			reactions[id] = r
		}
		p.Reactions = reactions
	}
	return p
}

// VoteStore is an in-memory implementation of the mood vote storage
// interface. Upserts are atomic under the store lock.
type VoteStore struct {
	mu    sync.RWMutex
	votes map[string]map[string]mood.Vote
}

// NewVoteStore creates an empty in-memory vote store.
func NewVoteStore() *VoteStore {
	return &VoteStore{votes: make(map[string]map[string]mood.Vote)}
}

func (s *VoteStore) UpsertVote(ctx context.Context, v mood.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.votes[v.MomentID]
	if !ok {
		byUser = make(map[string]mood.Vote)
		s.votes[v.MomentID] = byUser
	}
	byUser[v.UserID] = v
	return nil
}

func (s *VoteStore) ListVotes(ctx context.Context, momentID string) ([]mood.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []mood.Vote
	for _, v := range s.votes[momentID] {
		result = append(result, v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *VoteStore) DeleteVotesForMoment(ctx context.Context, momentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.votes, momentID)
	return nil
}

// ChatStore is an in-memory implementation of the chat message storage
// interface.
type ChatStore struct {
	mu       sync.RWMutex
	messages map[string][]chat.Message
}

// NewChatStore creates an empty in-memory chat store.
func NewChatStore() *ChatStore {
	return &ChatStore{messages: make(map[string][]chat.Message)}
}

func (s *ChatStore) SaveMessage(ctx context.Context, m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[m.MomentID] = append(s.messages[m.MomentID], m)
	return nil
}

func (s *ChatStore) History(ctx context.Context, momentID string, limit int, now time.Time) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []chat.Message
	for _, m := range s.messages[momentID] {
		if !m.Expired(now) {
			live = append(live, m)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})
	if limit > 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}
	return live, nil
}

func (s *ChatStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for momentID, msgs := range s.messages {
		var keep []chat.Message
		for _, m := range msgs {
			if m.Expired(now) && (limit <= 0 || deleted < limit) {
				deleted++
				continue
			}
			keep = append(keep, m)
		}
		if len(keep) == 0 {
			delete(s.messages, momentID)
		} else {
			s.messages[momentID] = keep
		}
	}
	return deleted, nil
}

func (s *ChatStore) DeleteForMoment(ctx context.Context, momentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, momentID)
	return nil
}
