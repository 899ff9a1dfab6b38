package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

// Key layout under the "nws:" namespace:
//
//	nws:seq:{kind}                identity sequences (INCR)
//	nws:grid_cell:key:{natural}   natural key -> id
//	nws:grid_cell:{id}            grid cell JSON
//	nws:point:geo                 GEO set of point-cache members
//	nws:point:{member}            point-cache entry JSON
//	nws:station:key:{identifier}  provider identifier -> id
//	nws:station:{id}              station JSON
//	nws:cell_stations:{id}        hash: station id -> priority
//	nws:forecast:{id}:{type}      forecast cache entry JSON
const redisNS = "nws:"

// nearestScanLimit bounds how many geo matches are inspected when filtering
// expired entries; within a 2500 m radius this comfortably covers the
// densest realistic cluster of cached query points.
const nearestScanLimit = 32

// RedisStore is the production Store backend. The GEO set supplies the
// nearest-neighbor-within-radius query; expired point entries are skipped
// at read time, matching the append-only contract.
type RedisStore struct {
	rdb   goredis.UniversalClient
	clock clockwork.Clock
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: client, clock: clockwork.NewRealClock()}
}

// Ping checks connectivity. Used by the health handler.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// identityFor resolves the id behind an index key, allocating from seqKey
// on first sight. Concurrent allocations race on SetNX; the loser adopts
// the winner's id, so duplicate upserts converge on one identity.
func (s *RedisStore) identityFor(ctx context.Context, indexKey, seqKey string) (int64, error) {
	id, err := s.rdb.Get(ctx, indexKey).Int64()
	if err == nil {
		return id, nil
	}
	if err != goredis.Nil {
		return 0, fmt.Errorf("redis get %s: %w", indexKey, err)
	}

	newID, err := s.rdb.Incr(ctx, seqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", seqKey, err)
	}
	set, err := s.rdb.SetNX(ctx, indexKey, newID, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redis setnx %s: %w", indexKey, err)
	}
	if !set {
		return s.rdb.Get(ctx, indexKey).Int64()
	}
	return newID, nil
}

// UpsertGridCell implements Store.
func (s *RedisStore) UpsertGridCell(ctx context.Context, cell models.GridCell) (int64, error) {
	id, err := s.identityFor(ctx, redisNS+"grid_cell:key:"+cell.NaturalKey(), redisNS+"seq:grid_cell")
	if err != nil {
		return 0, err
	}
	cell.ID = id
	cell.UpdatedAt = s.clock.Now()
	raw, err := json.Marshal(cell)
	if err != nil {
		return 0, fmt.Errorf("marshal grid cell: %w", err)
	}
	if err := s.rdb.Set(ctx, gridCellKey(id), raw, 0).Err(); err != nil {
		return 0, fmt.Errorf("redis set grid cell: %w", err)
	}
	return id, nil
}

// GridCell implements Store.
func (s *RedisStore) GridCell(ctx context.Context, id int64) (models.GridCell, bool, error) {
	raw, err := s.rdb.Get(ctx, gridCellKey(id)).Bytes()
	if err == goredis.Nil {
		return models.GridCell{}, false, nil
	}
	if err != nil {
		return models.GridCell{}, false, fmt.Errorf("redis get grid cell: %w", err)
	}
	var cell models.GridCell
	if err := json.Unmarshal(raw, &cell); err != nil {
		return models.GridCell{}, false, fmt.Errorf("decode grid cell %d: %w", id, err)
	}
	return cell, true, nil
}

// InsertPointEntry implements Store.
func (s *RedisStore) InsertPointEntry(ctx context.Context, e models.PointCacheEntry) error {
	member, err := s.rdb.Incr(ctx, redisNS+"seq:point").Result()
	if err != nil {
		return fmt.Errorf("redis incr point seq: %w", err)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal point entry: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.GeoAdd(ctx, redisNS+"point:geo", &goredis.GeoLocation{
		Name:      strconv.FormatInt(member, 10),
		Longitude: e.Lon,
		Latitude:  e.Lat,
	})
	pipe.Set(ctx, pointKey(member), raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis insert point entry: %w", err)
	}
	return nil
}

// NearestPointEntry implements Store. GEOSEARCH returns candidates ordered
// by distance; the first unexpired one wins, which also fixes the tie order
// to Redis's sort.
func (s *RedisStore) NearestPointEntry(ctx context.Context, lat, lon, radiusM float64) (NearestMatch, bool, error) {
	locs, err := s.rdb.GeoSearchLocation(ctx, redisNS+"point:geo", &goredis.GeoSearchLocationQuery{
		GeoSearchQuery: goredis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      nearestScanLimit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return NearestMatch{}, false, fmt.Errorf("redis geosearch: %w", err)
	}

	now := s.clock.Now()
	for _, loc := range locs {
		member, err := strconv.ParseInt(loc.Name, 10, 64)
		if err != nil {
			continue
		}
		raw, err := s.rdb.Get(ctx, pointKey(member)).Bytes()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			return NearestMatch{}, false, fmt.Errorf("redis get point entry: %w", err)
		}
		var e models.PointCacheEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		if !e.ExpiresAt.After(now) {
			continue
		}
		return NearestMatch{GridCellID: e.GridCellID, DistanceM: loc.Dist}, true, nil
	}
	return NearestMatch{}, false, nil
}

// UpsertStation implements Store.
func (s *RedisStore) UpsertStation(ctx context.Context, st models.Station) (int64, error) {
	id, err := s.identityFor(ctx, redisNS+"station:key:"+st.Identifier, redisNS+"seq:station")
	if err != nil {
		return 0, err
	}
	st.ID = id
	raw, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("marshal station: %w", err)
	}
	if err := s.rdb.Set(ctx, stationKey(id), raw, 0).Err(); err != nil {
		return 0, fmt.Errorf("redis set station: %w", err)
	}
	return id, nil
}

// UpsertStationLink implements Store.
func (s *RedisStore) UpsertStationLink(ctx context.Context, link models.StationLink) error {
	err := s.rdb.HSet(ctx,
		cellStationsKey(link.GridCellID),
		strconv.FormatInt(link.StationID, 10),
		link.Priority,
	).Err()
	if err != nil {
		return fmt.Errorf("redis set station link: %w", err)
	}
	return nil
}

// StationLinks implements Store.
func (s *RedisStore) StationLinks(ctx context.Context, gridCellID int64) ([]models.StationLink, error) {
	entries, err := s.rdb.HGetAll(ctx, cellStationsKey(gridCellID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get station links: %w", err)
	}
	out := make([]models.StationLink, 0, len(entries))
	for sid, prio := range entries {
		stationID, err := strconv.ParseInt(sid, 10, 64)
		if err != nil {
			continue
		}
		priority, err := strconv.Atoi(prio)
		if err != nil {
			continue
		}
		out = append(out, models.StationLink{GridCellID: gridCellID, StationID: stationID, Priority: priority})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].StationID < out[j].StationID
	})
	return out, nil
}

// ForecastEntry implements Store.
func (s *RedisStore) ForecastEntry(ctx context.Context, gridCellID int64, t models.ForecastType) (models.ForecastCacheEntry, bool, error) {
	raw, err := s.rdb.Get(ctx, forecastEntryKey(gridCellID, t)).Bytes()
	if err == goredis.Nil {
		return models.ForecastCacheEntry{}, false, nil
	}
	if err != nil {
		return models.ForecastCacheEntry{}, false, fmt.Errorf("redis get forecast entry: %w", err)
	}
	var e models.ForecastCacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.ForecastCacheEntry{}, false, fmt.Errorf("decode forecast entry: %w", err)
	}
	return e, true, nil
}

// UpsertForecastEntry implements Store.
func (s *RedisStore) UpsertForecastEntry(ctx context.Context, e models.ForecastCacheEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal forecast entry: %w", err)
	}
	if err := s.rdb.Set(ctx, forecastEntryKey(e.GridCellID, e.Type), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set forecast entry: %w", err)
	}
	return nil
}

func gridCellKey(id int64) string  { return redisNS + "grid_cell:" + strconv.FormatInt(id, 10) }
func pointKey(member int64) string { return redisNS + "point:" + strconv.FormatInt(member, 10) }
func stationKey(id int64) string   { return redisNS + "station:" + strconv.FormatInt(id, 10) }

func cellStationsKey(id int64) string {
	return redisNS + "cell_stations:" + strconv.FormatInt(id, 10)
}

func forecastEntryKey(id int64, t models.ForecastType) string {
	return fmt.Sprintf("%sforecast:%d:%s", redisNS, id, t)
}

var _ Store = (*RedisStore)(nil)
