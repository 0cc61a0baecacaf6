// Package geo resolves coordinates to nearby moments. One distance formula
// serves both create-or-join matching and discovery listing, so "what counts
// as the same moment" can never drift from "what shows up in a search".
package geo

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"huddle/internal/domain/moment"
)

const earthRadiusMeters = 6371000.0

// CandidateSource supplies active moments near a point. Implementations may
// over-approximate the radius; the index applies the exact distance check.
type CandidateSource interface {
	ActiveMomentsNear(ctx context.Context, lat, lng, radiusMeters float64, now time.Time) ([]moment.Moment, error)
}

// Index maps a coordinate to zero-or-one matching active moment.
// It is read-only and has no side effects.
type Index struct {
	source CandidateSource
	clock  clockwork.Clock
}

// NewIndex creates a new geo index over the given candidate source.
func NewIndex(source CandidateSource, clock clockwork.Clock) *Index {
	return &Index{
		source: source,
		clock:  clock,
	}
}

// FindNearby returns the closest active, non-expired moment within
// radiusMeters of (lat, lng), or nil when no moment matches.
// Exact distance ties resolve to the most recently created moment.
func (ix *Index) FindNearby(ctx context.Context, lat, lng, radiusMeters float64) (*moment.Moment, error) {
	now := ix.clock.Now()

	candidates, err := ix.source.ActiveMomentsNear(ctx, lat, lng, radiusMeters, now)
	if err != nil {
		return nil, fmt.Errorf("error loading nearby candidates: %w", err)
	}

	var (
		best     *moment.Moment
		bestDist float64
	)

	for i := range candidates {
		c := &candidates[i]
		if c.Status != moment.StatusActive || !now.Before(c.ExpiresAt) {
			continue
		}

		dist := Distance(lat, lng, c.Latitude, c.Longitude)
		if dist > radiusMeters {
			continue
		}

		switch {
		case best == nil:
			best, bestDist = c, dist
		case dist < bestDist:
			best, bestDist = c, dist
		case dist == bestDist && c.CreatedAt.After(best.CreatedAt):
			best = c
		}
	}

	if best == nil {
		return nil, nil
	}

	found := *best
	return &found, nil
}

// Discover returns active moments within radiusKm of (lat, lng), closest
// first, ties broken by recency, bounded by limit. It uses the same distance
// formula as FindNearby.
func (ix *Index) Discover(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]moment.Moment, error) {
	now := ix.clock.Now()
	radiusMeters := radiusKm * 1000

	candidates, err := ix.source.ActiveMomentsNear(ctx, lat, lng, radiusMeters, now)
	if err != nil {
		return nil, fmt.Errorf("error loading nearby candidates: %w", err)
	}

	type scored struct {
		m    moment.Moment
		dist float64
	}

	var matches []scored
	for _, c := range candidates {
		if c.Status != moment.StatusActive || !now.Before(c.ExpiresAt) {
			continue
		}

		dist := Distance(lat, lng, c.Latitude, c.Longitude)
		if dist > radiusMeters {
			continue
		}

		matches = append(matches, scored{m: c, dist: dist})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].dist != matches[j].dist {
			return matches[i].dist < matches[j].dist
		}
		return matches[i].m.CreatedAt.After(matches[j].m.CreatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	result := make([]moment.Moment, 0, len(matches))
	for _, s := range matches {
		result = append(result, s.m)
	}

	return result, nil
}

// Distance returns the great-circle distance in meters between two points
// using the Haversine formula.
func Distance(aLat, aLng, bLat, bLng float64) float64 {
	lat1 := aLat * math.Pi / 180.0
	lng1 := aLng * math.Pi / 180.0
	lat2 := bLat * math.Pi / 180.0
	lng2 := bLng * math.Pi / 180.0

	dLat := lat2 - lat1
	dLng := lng2 - lng1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLng / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Cell returns a coarse spatial bucket key for a coordinate. Rounding to
// three decimal places buckets points into roughly 110m cells, wide enough
// to cover the default 50m join radius.
func Cell(lat, lng float64) string {
	return fmt.Sprintf("%.3f:%.3f", lat, lng)
}
