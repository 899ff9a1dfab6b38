package store

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// Upserting the same natural key twice yields one row carrying the latest
// field values under the original identity.
func TestMemoryStore_UpsertGridCell_NaturalKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.UpsertGridCell(ctx, models.GridCell{
		GridID: "CTP", GridX: 76, GridY: 64,
		ForecastURL: "https://old.example/forecast",
	})
	require.NoError(t, err)

	id2, err := s.UpsertGridCell(ctx, models.GridCell{
		GridID: "CTP", GridX: 76, GridY: 64,
		ForecastURL: "https://new.example/forecast",
		TimeZone:    "America/New_York",
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "same natural key must keep the same identity")

	cell, ok, err := s.GridCell(ctx, id1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://new.example/forecast", cell.ForecastURL)
	assert.Equal(t, "America/New_York", cell.TimeZone)

	// A different natural key gets a new identity.
	id3, err := s.UpsertGridCell(ctx, models.GridCell{GridID: "CTP", GridX: 77, GridY: 64})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestMemoryStore_NearestPointEntry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStoreWithClock(clock)
	ctx := context.Background()
	expires := clock.Now().Add(time.Hour)

	// ~1.1 km north and ~2.2 km north of the query point.
	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.02, Lon: -76.0, GridCellID: 2, ExpiresAt: expires,
	}))
	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.01, Lon: -76.0, GridCellID: 1, ExpiresAt: expires,
	}))

	m, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), m.GridCellID, "closest entry wins")
	assert.InDelta(t, 1112, m.DistanceM, 30)
}

func TestMemoryStore_NearestPointEntry_RadiusBound(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStoreWithClock(clock)
	ctx := context.Background()

	// ~5.5 km away: outside the 2500 m radius.
	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.05, Lon: -76.0, GridCellID: 1, ExpiresAt: clock.Now().Add(time.Hour),
	}))

	_, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Expired entries are filtered at read time; they are not deleted, and a
// fresh entry for the same area takes over.
func TestMemoryStore_NearestPointEntry_ExpiryFiltering(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStoreWithClock(clock)
	ctx := context.Background()

	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.0, Lon: -76.0, GridCellID: 1, ExpiresAt: clock.Now().Add(time.Minute),
	}))

	_, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	assert.True(t, ok, "unexpired entry should match")

	clock.Advance(2 * time.Minute)

	_, ok, err = s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must be filtered out")

	// A fresh insert restores the hit without touching the stale row.
	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.0, Lon: -76.0, GridCellID: 2, ExpiresAt: clock.Now().Add(time.Hour),
	}))
	m, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), m.GridCellID)
}

// Equal distances resolve to the earliest-inserted entry, deterministically.
func TestMemoryStore_NearestPointEntry_TieBreak(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := NewMemoryStoreWithClock(clock)
	ctx := context.Background()
	expires := clock.Now().Add(time.Hour)

	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.0, Lon: -76.0, GridCellID: 7, ExpiresAt: expires,
	}))
	require.NoError(t, s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.0, Lon: -76.0, GridCellID: 8, ExpiresAt: expires,
	}))

	m, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), m.GridCellID)
}

func TestMemoryStore_Stations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id1, err := s.UpsertStation(ctx, models.Station{Identifier: "KMDT", Name: "Harrisburg Intl"})
	require.NoError(t, err)

	// Re-upsert by identifier overwrites fields, keeps identity.
	id2, err := s.UpsertStation(ctx, models.Station{
		Identifier: "KMDT", Name: "Harrisburg International Airport",
		HasLocation: true, Lat: 40.19, Lon: -76.76,
	})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	require.NoError(t, s.UpsertStationLink(ctx, models.StationLink{GridCellID: 1, StationID: id1, Priority: 3}))
	// Re-link overwrites priority.
	require.NoError(t, s.UpsertStationLink(ctx, models.StationLink{GridCellID: 1, StationID: id1, Priority: 0}))

	links, err := s.StationLinks(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, 0, links[0].Priority)
}

func TestMemoryStore_ForecastEntry_Upsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.ForecastEntry(ctx, 1, models.ForecastDaily)
	require.NoError(t, err)
	assert.False(t, ok)

	e := models.ForecastCacheEntry{
		GridCellID: 1, Type: models.ForecastDaily,
		Data: []byte(`{"v":1}`), StatusCode: 200,
	}
	require.NoError(t, s.UpsertForecastEntry(ctx, e))

	e.Data = []byte(`{"v":2}`)
	e.StatusCode = 304
	require.NoError(t, s.UpsertForecastEntry(ctx, e))

	got, ok, err := s.ForecastEntry(ctx, 1, models.ForecastDaily)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(got.Data))
	assert.Equal(t, 304, got.StatusCode)

	// The hourly slot for the same cell is an independent row.
	_, ok, err = s.ForecastEntry(ctx, 1, models.ForecastHourly)
	require.NoError(t, err)
	assert.False(t, ok)
}
