package sweep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/adapter/memory"
	"huddle/internal/apperr"
	"huddle/internal/domain/chat"
	"huddle/internal/domain/moment"
	"huddle/internal/domain/mood"
	"huddle/internal/geo"
	"huddle/internal/service/moments"
	"huddle/internal/service/moods"
	"huddle/internal/service/presence"
	"huddle/internal/service/sweep"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	scheduler  *sweep.Scheduler
	moments    *moments.Service
	aggregator *moods.Aggregator
	hub        *presence.Hub
	store      *memory.MomentStore
	chats      *memory.ChatStore
	clock      clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0)
	store := memory.NewMomentStore()
	votes := memory.NewVoteStore()
	chats := memory.NewChatStore()
	index := geo.NewIndex(store, clock)

	momentService := moments.NewService(store, index, nil, clock, moments.Config{
		JoinRadiusMeters:  50,
		DiscoveryRadiusKm: 5,
		Window:            24 * time.Hour,
		Retention:         7 * 24 * time.Hour,
		MaxPostLength:     500,
		EventsTopic:       "moment",
	})

	hub := presence.NewHub(momentService, chats, clock, presence.Config{
		MaxMessageLength: 280,
		HistoryLimit:     50,
		MessageTTL:       24 * time.Hour,
	})
	momentService.SetBroadcaster(hub)

	aggregator := moods.NewAggregator(votes, momentService, hub, clock)

	scheduler := sweep.NewScheduler(momentService, aggregator, chats, hub, clock, sweep.Config{
		Interval:            time.Hour,
		DeepCleanInterval:   24 * time.Hour,
		BatchSize:           500,
		InactivityThreshold: 30 * time.Minute,
	})

	return &fixture{
		scheduler:  scheduler,
		moments:    momentService,
		aggregator: aggregator,
		hub:        hub,
		store:      store,
		chats:      chats,
		clock:      clock,
	}
}

func (f *fixture) saveChatMessage(t *testing.T, momentID, text string) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.chats.SaveMessage(context.Background(), chat.Message{
		ID:        uuid.New().String(),
		MomentID:  momentID,
		AuthorID:  "alice",
		Type:      chat.TypeText,
		Text:      text,
		CreatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}))
}

func TestSweepExpiresMomentAfterWindow(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	got, err := f.moments.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, moment.StatusExpired, got.Status)

	// Expired moments reject writes but stay readable.
	_, err = f.moments.AddPost(context.Background(), m.ID, "alice", "too late", "", "")
	assert.True(t, apperr.IsKind(err, apperr.KindInactive))
}

func TestSweepPurgesMomentWithDependents(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)
	_, err = f.moments.AddPost(context.Background(), m.ID, "alice", "hello", mood.MoodCozy, "")
	require.NoError(t, err)
	_, err = f.aggregator.RecordVote(context.Background(), m.ID, "alice", mood.MoodCozy, 4)
	require.NoError(t, err)
	f.saveChatMessage(t, m.ID, "hey")

	// Past the window: expired but retained.
	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))
	_, err = f.moments.Get(context.Background(), m.ID)
	require.NoError(t, err)

	// Past retention: gone along with posts, votes and chat.
	f.clock.Advance(7 * 24 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	_, err = f.moments.Get(context.Background(), m.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	assert.Equal(t, 0, f.store.PostCountFor(m.ID))

	summary, err := f.aggregator.Summary(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalVotes)

	history, err := f.chats.History(context.Background(), m.ID, 50, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	f.clock.Advance(8 * 24 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))
	require.NoError(t, f.scheduler.Sweep(context.Background()))
}

func TestSweepDeletesExpiredChatIndependently(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	f.saveChatMessage(t, m.ID, "early")
	f.clock.Advance(12 * time.Hour)
	f.saveChatMessage(t, m.ID, "late")

	// 25 hours after the first message: it is expired, the second is not,
	// and the moment itself expires too. Chat expiry does not depend on the
	// moment's transition.
	f.clock.Advance(13 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	history, err := f.chats.History(context.Background(), m.ID, 50, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "late", history[0].Text)
}

func TestSweepPrunesInactiveParticipants(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	f.clock.Advance(35 * time.Minute)
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	got, err := f.moments.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ParticipantCount())
	assert.True(t, got.Inactive)
	assert.Equal(t, moment.StatusActive, got.Status)
}

func TestSweepClosesRoomOnPurge(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	conn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, m.ID, "alice"))

	f.clock.Advance(9 * 24 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))

	assert.Equal(t, 0, f.hub.RoomCount(m.ID))
	assert.Equal(t, 1, conn.count("momentPurged"))
}

func TestDeepCleanArchivesExpired(t *testing.T) {
	f := newFixture(t)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, "alice")
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	require.NoError(t, f.scheduler.Sweep(context.Background()))
	require.NoError(t, f.scheduler.DeepClean(context.Background()))

	got, err := f.moments.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, moment.StatusArchived, got.Status)

	// Archival keeps data readable until retention runs out.
	posts, err := f.moments.ListPosts(context.Background(), m.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, posts)
}

type fakeConn struct {
	mu     sync.Mutex
	events []string
}

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == event {
			n++
		}
	}
	return n
}
