package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/adapter/memory"
	"huddle/internal/apperr"
	"huddle/internal/domain/chat"
	"huddle/internal/domain/moment"
	"huddle/internal/geo"
	"huddle/internal/service/moments"
	"huddle/internal/service/presence"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type sentEvent struct {
	event   string
	payload any
}

type fakeConn struct {
	mu     sync.Mutex
	events []sentEvent
}

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, sentEvent{event: event, payload: payload})
	return nil
}

func (c *fakeConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.events))
	for i, e := range c.events {
		names[i] = e.event
	}
	return names
}

func (c *fakeConn) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) messageTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var texts []string
	for _, e := range c.events {
		if e.event != "newMessage" {
			continue
		}
		if m, ok := e.payload.(chat.Message); ok {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func (c *fakeConn) last(event string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload, true
		}
	}
	return nil, false
}

type fixture struct {
	hub     *presence.Hub
	moments *moments.Service
	store   *memory.MomentStore
	chats   *memory.ChatStore
	clock   clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := clockwork.NewFakeClockAt(t0)
	store := memory.NewMomentStore()
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

	return &fixture{hub: hub, moments: momentService, store: store, chats: chats, clock: clock}
}

func (f *fixture) createMoment(t *testing.T, users ...string) *moment.Moment {
	t.Helper()
	require.NotEmpty(t, users)

	m, _, err := f.moments.CreateOrJoin(context.Background(), 40.0, -74.0, users[0])
	require.NoError(t, err)
	for _, u := range users[1:] {
		_, err := f.moments.AddParticipant(context.Background(), m.ID, u)
		require.NoError(t, err)
	}
	return m
}

func TestJoinRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice")

	err := f.hub.Join(context.Background(), "c1", &fakeConn{}, m.ID, "")
	assert.True(t, apperr.IsKind(err, apperr.KindUnauthenticated))
}

func TestJoinRequiresParticipantWhileActive(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice")

	err := f.hub.Join(context.Background(), "c1", &fakeConn{}, m.ID, "stranger")
	assert.True(t, apperr.IsKind(err, apperr.KindNotParticipant))
	assert.Equal(t, 0, f.hub.RoomCount(m.ID))
}

func TestJoinUnknownMoment(t *testing.T) {
	f := newFixture(t)

	err := f.hub.Join(context.Background(), "c1", &fakeConn{}, "missing", "alice")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestJoinBroadcastsAndBackfillsHistory(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice")

	conn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, m.ID, "alice"))

	names := conn.names()
	require.Len(t, names, 2)
	assert.Equal(t, "participantJoined", names[0])
	assert.Equal(t, "chatHistory", names[1])

	payload, ok := conn.last("chatHistory")
	require.True(t, ok)
	history, ok := payload.([]chat.Message)
	require.True(t, ok)
	assert.Empty(t, history)
}

func TestJoinBackfillIsOldestFirst(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice", "bob")

	sender := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", sender, m.ID, "alice"))
	for _, text := range []string{"first", "second", "third"} {
		_, err := f.hub.SendMessage(context.Background(), "c1", text)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}

	joiner := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c2", joiner, m.ID, "bob"))

	payload, ok := joiner.last("chatHistory")
	require.True(t, ok)
	history, ok := payload.([]chat.Message)
	require.True(t, ok)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Text)
	assert.Equal(t, "third", history[2].Text)
}

func TestJoinExpiredMomentIsReadOnlyViewing(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveMoment(context.Background(), moment.Moment{
		ID:        "old",
		Status:    moment.StatusArchived,
		CreatedAt: t0.Add(-48 * time.Hour),
		ExpiresAt: t0.Add(-24 * time.Hour),
	}))

	conn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, "old", "stranger"))
	assert.Equal(t, 1, f.hub.RoomCount("old"))

	// Viewing is allowed; writing is not.
	_, err := f.hub.SendMessage(context.Background(), "c1", "hello")
	assert.True(t, apperr.IsKind(err, apperr.KindInactive))
}

func TestSendMessageRoundTrip(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice", "bob")

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", aliceConn, m.ID, "alice"))
	require.NoError(t, f.hub.Join(context.Background(), "c2", bobConn, m.ID, "bob"))

	msg, err := f.hub.SendMessage(context.Background(), "c1", "  hello room  ")
	require.NoError(t, err)
	assert.Equal(t, "hello room", msg.Text)
	assert.Equal(t, "alice", msg.AuthorID)
	assert.Equal(t, chat.TypeText, msg.Type)
	assert.Equal(t, t0.Add(24*time.Hour), msg.ExpiresAt)

	assert.Equal(t, 1, aliceConn.count("newMessage"))
	assert.Equal(t, 1, bobConn.count("newMessage"))

	history, err := f.chats.History(context.Background(), m.ID, 50, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
}

// stallingChatStore delays the first persisted message so a concurrent
// sender gets a chance to overtake it.
type stallingChatStore struct {
	*memory.ChatStore

	mu       sync.Mutex
	accepted []string
	stalled  bool
	entered  chan struct{}
}

func (s *stallingChatStore) SaveMessage(ctx context.Context, m chat.Message) error {
	s.mu.Lock()
	s.accepted = append(s.accepted, m.Text)
	stall := !s.stalled
	s.stalled = true
	s.mu.Unlock()

	if stall {
		close(s.entered)
		time.Sleep(100 * time.Millisecond)
	}
	return s.ChatStore.SaveMessage(ctx, m)
}

func (s *stallingChatStore) acceptedTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accepted...)
}

func TestConcurrentSendsDeliverInStoreOrder(t *testing.T) {
	f := newFixture(t)
	chats := &stallingChatStore{ChatStore: f.chats, entered: make(chan struct{})}
	hub := presence.NewHub(f.moments, chats, f.clock, presence.Config{
		MaxMessageLength: 280,
		HistoryLimit:     50,
		MessageTTL:       24 * time.Hour,
	})

	m := f.createMoment(t, "alice", "bob")

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	require.NoError(t, hub.Join(context.Background(), "c1", aliceConn, m.ID, "alice"))
	require.NoError(t, hub.Join(context.Background(), "c2", bobConn, m.ID, "bob"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := hub.SendMessage(context.Background(), "c1", "first")
		assert.NoError(t, err)
	}()
	<-chats.entered
	go func() {
		defer wg.Done()
		_, err := hub.SendMessage(context.Background(), "c2", "second")
		assert.NoError(t, err)
	}()
	wg.Wait()

	accepted := chats.acceptedTexts()
	require.Equal(t, []string{"first", "second"}, accepted)
	assert.Equal(t, accepted, aliceConn.messageTexts())
	assert.Equal(t, accepted, bobConn.messageTexts())
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice")

	_, err := f.hub.SendMessage(context.Background(), "unbound", "hello")
	assert.True(t, apperr.IsKind(err, apperr.KindNotParticipant))

	conn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, m.ID, "alice"))

	_, err = f.hub.SendMessage(context.Background(), "c1", "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	long := make([]byte, 281)
	for i := range long {
		long[i] = 'x'
	}
	_, err = f.hub.SendMessage(context.Background(), "c1", string(long))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestTypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice", "bob")

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", aliceConn, m.ID, "alice"))
	require.NoError(t, f.hub.Join(context.Background(), "c2", bobConn, m.ID, "bob"))

	require.NoError(t, f.hub.Typing(context.Background(), "c1", true))

	assert.Equal(t, 0, aliceConn.count("typing"))
	assert.Equal(t, 1, bobConn.count("typing"))
}

func TestLeaveNotifiesRoom(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice", "bob")

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", aliceConn, m.ID, "alice"))
	require.NoError(t, f.hub.Join(context.Background(), "c2", bobConn, m.ID, "bob"))

	f.hub.Leave(context.Background(), "c2")

	assert.Equal(t, 1, f.hub.RoomCount(m.ID))
	assert.Equal(t, 1, aliceConn.count("participantLeft"))

	payload, ok := aliceConn.last("participantLeft")
	require.True(t, ok)
	fields, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, fields["count"])

	// Leaving twice, or with an unknown connection, is harmless.
	f.hub.Leave(context.Background(), "c2")
	f.hub.Leave(context.Background(), "never-joined")
}

func TestRejoinMovesConnectionBetweenRooms(t *testing.T) {
	f := newFixture(t)
	first := f.createMoment(t, "alice")
	second, _, err := f.moments.CreateOrJoin(context.Background(), 41.0, -74.0, "alice")
	require.NoError(t, err)

	conn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, first.ID, "alice"))
	require.NoError(t, f.hub.Join(context.Background(), "c1", conn, second.ID, "alice"))

	assert.Equal(t, 0, f.hub.RoomCount(first.ID))
	assert.Equal(t, 1, f.hub.RoomCount(second.ID))
}

func TestCloseRoomDropsAllBindings(t *testing.T) {
	f := newFixture(t)
	m := f.createMoment(t, "alice", "bob")

	aliceConn := &fakeConn{}
	bobConn := &fakeConn{}
	require.NoError(t, f.hub.Join(context.Background(), "c1", aliceConn, m.ID, "alice"))
	require.NoError(t, f.hub.Join(context.Background(), "c2", bobConn, m.ID, "bob"))

	f.hub.CloseRoom(m.ID, "momentPurged", map[string]any{"moment_id": m.ID})

	assert.Equal(t, 0, f.hub.RoomCount(m.ID))
	assert.Equal(t, 1, aliceConn.count("momentPurged"))
	assert.Equal(t, 1, bobConn.count("momentPurged"))

	_, err := f.hub.SendMessage(context.Background(), "c1", "hello")
	assert.True(t, apperr.IsKind(err, apperr.KindNotParticipant))
}
