package geo_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/adapter/memory"
	"huddle/internal/domain/moment"
	"huddle/internal/geo"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newIndex(t *testing.T) (*geo.Index, *memory.MomentStore, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memory.NewMomentStore()
	return geo.NewIndex(store, clock), store, clock
}

func activeMoment(id string, lat, lng float64, createdAt time.Time) moment.Moment {
	return moment.Moment{
		ID:        id,
		Latitude:  lat,
		Longitude: lng,
		Status:    moment.StatusActive,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(24 * time.Hour),
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// 0.0009 degrees of latitude is very close to 100 meters.
	d := geo.Distance(40.0, -74.0, 40.0009, -74.0)
	assert.InDelta(t, 100.0, d, 1.0)

	assert.Zero(t, geo.Distance(40.0, -74.0, 40.0, -74.0))
}

func TestFindNearbyMatchesWithinRadius(t *testing.T) {
	index, store, _ := newIndex(t)

	m := activeMoment("m1", 40.0, -74.0, t0.Add(-time.Hour))
	require.NoError(t, store.SaveMoment(context.Background(), m))

	// Roughly 14 meters away.
	found, err := index.FindNearby(context.Background(), 40.0001, -74.0001, 50)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "m1", found.ID)
}

func TestFindNearbyNoMatchOutsideRadius(t *testing.T) {
	index, store, _ := newIndex(t)

	m := activeMoment("m1", 40.0, -74.0, t0.Add(-time.Hour))
	require.NoError(t, store.SaveMoment(context.Background(), m))

	// Roughly 111 meters away.
	found, err := index.FindNearby(context.Background(), 40.001, -74.0, 50)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindNearbyPicksClosest(t *testing.T) {
	index, store, _ := newIndex(t)

	near := activeMoment("near", 40.0001, -74.0, t0.Add(-time.Hour))
	far := activeMoment("far", 40.0003, -74.0, t0.Add(-time.Hour))
	require.NoError(t, store.SaveMoment(context.Background(), near))
	require.NoError(t, store.SaveMoment(context.Background(), far))

	found, err := index.FindNearby(context.Background(), 40.0, -74.0, 50)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "near", found.ID)
}

func TestFindNearbyTieBreaksByRecency(t *testing.T) {
	index, store, _ := newIndex(t)

	older := activeMoment("older", 40.0, -74.0, t0.Add(-2*time.Hour))
	newer := activeMoment("newer", 40.0, -74.0, t0.Add(-time.Hour))
	require.NoError(t, store.SaveMoment(context.Background(), older))
	require.NoError(t, store.SaveMoment(context.Background(), newer))

	found, err := index.FindNearby(context.Background(), 40.0, -74.0, 50)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "newer", found.ID)
}

func TestFindNearbySkipsExpiredWindow(t *testing.T) {
	index, store, clock := newIndex(t)

	m := activeMoment("m1", 40.0, -74.0, t0.Add(-time.Hour))
	require.NoError(t, store.SaveMoment(context.Background(), m))

	clock.Advance(24 * time.Hour)

	found, err := index.FindNearby(context.Background(), 40.0, -74.0, 50)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestDiscoverOrdersByDistance(t *testing.T) {
	index, store, _ := newIndex(t)

	a := activeMoment("a", 40.001, -74.0, t0.Add(-time.Hour))
	b := activeMoment("b", 40.0001, -74.0, t0.Add(-time.Hour))
	c := activeMoment("c", 40.01, -74.0, t0.Add(-time.Hour))
	for _, m := range []moment.Moment{a, b, c} {
		require.NoError(t, store.SaveMoment(context.Background(), m))
	}

	found, err := index.Discover(context.Background(), 40.0, -74.0, 5, 0)
	require.NoError(t, err)
	require.Len(t, found, 3)
	assert.Equal(t, "b", found[0].ID)
	assert.Equal(t, "a", found[1].ID)
	assert.Equal(t, "c", found[2].ID)
}

func TestDiscoverHonorsRadiusAndLimit(t *testing.T) {
	index, store, _ := newIndex(t)

	near := activeMoment("near", 40.0001, -74.0, t0.Add(-time.Hour))
	mid := activeMoment("mid", 40.001, -74.0, t0.Add(-time.Hour))
	distant := activeMoment("distant", 41.0, -74.0, t0.Add(-time.Hour))
	for _, m := range []moment.Moment{near, mid, distant} {
		require.NoError(t, store.SaveMoment(context.Background(), m))
	}

	found, err := index.Discover(context.Background(), 40.0, -74.0, 5, 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "near", found[0].ID)
}

func TestCellBucketsNearbyPoints(t *testing.T) {
	assert.Equal(t, geo.Cell(40.0001, -74.0001), geo.Cell(40.0002, -74.0002))
	assert.NotEqual(t, geo.Cell(40.0, -74.0), geo.Cell(40.1, -74.0))
}
