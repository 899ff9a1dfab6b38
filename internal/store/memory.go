package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/adventureadjacent/mapcase-weather/internal/geo"
	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// MemoryStore is a concurrency-safe in-memory Store. Default backend for
// development and tests; production deployments use the Redis backend.
type MemoryStore struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	cells      map[int64]models.GridCell
	cellIDs    map[string]int64 // natural key -> id
	nextCellID int64

	points []models.PointCacheEntry // append-only, insertion order preserved

	stations      map[int64]models.Station
	stationIDs    map[string]int64 // provider identifier -> id
	nextStationID int64

	links     map[int64]map[int64]int // grid cell id -> station id -> priority
	linkOrder map[int64][]int64       // first-link order per cell, for stable reads

	forecasts map[forecastKey]models.ForecastCacheEntry
}

type forecastKey struct {
	gridCellID   int64
	forecastType models.ForecastType
}

// NewMemoryStore creates an empty MemoryStore using the real clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clockwork.NewRealClock())
}

// NewMemoryStoreWithClock creates a MemoryStore with an injected clock so
// tests can control expiry.
func NewMemoryStoreWithClock(clock clockwork.Clock) *MemoryStore {
	return &MemoryStore{
		clock:      clock,
		cells:      make(map[int64]models.GridCell),
		cellIDs:    make(map[string]int64),
		stations:   make(map[int64]models.Station),
		stationIDs: make(map[string]int64),
		links:      make(map[int64]map[int64]int),
		linkOrder:  make(map[int64][]int64),
		forecasts:  make(map[forecastKey]models.ForecastCacheEntry),
	}
}

// UpsertGridCell implements Store. Last write wins on every field except identity.
func (s *MemoryStore) UpsertGridCell(ctx context.Context, cell models.GridCell) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cell.NaturalKey()
	id, ok := s.cellIDs[key]
	if !ok {
		s.nextCellID++
		id = s.nextCellID
		s.cellIDs[key] = id
	}
	cell.ID = id
	cell.UpdatedAt = s.clock.Now()
	s.cells[id] = cell
	return id, nil
}

// GridCell implements Store.
func (s *MemoryStore) GridCell(ctx context.Context, id int64) (models.GridCell, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.GridCell{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cell, ok := s.cells[id]
	return cell, ok, nil
}

// InsertPointEntry implements Store. Append-only; expired entries are never removed.
func (s *MemoryStore) InsertPointEntry(ctx context.Context, e models.PointCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, e)
	return nil
}

// NearestPointEntry implements Store. Expiry is applied at read time; ties
// on distance resolve to the earliest-inserted entry.
func (s *MemoryStore) NearestPointEntry(ctx context.Context, lat, lon, radiusM float64) (NearestMatch, bool, error) {
	if err := ctx.Err(); err != nil {
		return NearestMatch{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	best := NearestMatch{}
	found := false
	for _, e := range s.points {
		if !e.ExpiresAt.After(now) {
			continue
		}
		d := geo.HaversineMeters(lat, lon, e.Lat, e.Lon)
		if d > radiusM {
			continue
		}
		if !found || d < best.DistanceM {
			best = NearestMatch{GridCellID: e.GridCellID, DistanceM: d}
			found = true
		}
	}
	return best, found, nil
}

// UpsertStation implements Store.
func (s *MemoryStore) UpsertStation(ctx context.Context, st models.Station) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.stationIDs[st.Identifier]
	if !ok {
		s.nextStationID++
		id = s.nextStationID
		s.stationIDs[st.Identifier] = id
	}
	st.ID = id
	s.stations[id] = st
	return id, nil
}

// UpsertStationLink implements Store. Priority is overwritten, not accumulated.
func (s *MemoryStore) UpsertStationLink(ctx context.Context, link models.StationLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cellLinks, ok := s.links[link.GridCellID]
	if !ok {
		cellLinks = make(map[int64]int)
		s.links[link.GridCellID] = cellLinks
	}
	if _, exists := cellLinks[link.StationID]; !exists {
		s.linkOrder[link.GridCellID] = append(s.linkOrder[link.GridCellID], link.StationID)
	}
	cellLinks[link.StationID] = link.Priority
	return nil
}

// StationLinks implements Store.
func (s *MemoryStore) StationLinks(ctx context.Context, gridCellID int64) ([]models.StationLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StationLink, 0, len(s.links[gridCellID]))
	for _, sid := range s.linkOrder[gridCellID] {
		out = append(out, models.StationLink{
			GridCellID: gridCellID,
			StationID:  sid,
			Priority:   s.links[gridCellID][sid],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

// ForecastEntry implements Store.
func (s *MemoryStore) ForecastEntry(ctx context.Context, gridCellID int64, t models.ForecastType) (models.ForecastCacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ForecastCacheEntry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.forecasts[forecastKey{gridCellID, t}]
	return e, ok, nil
}

// UpsertForecastEntry implements Store. One row per (GridCellID, Type).
func (s *MemoryStore) UpsertForecastEntry(ctx context.Context, e models.ForecastCacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts[forecastKey{e.GridCellID, e.Type}] = e
	return nil
}

var _ Store = (*MemoryStore)(nil)
