//go:build integration
// +build integration

package store

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

func redisStoreForTest(t *testing.T) *RedisStore {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379", DB: 9})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client)
}

func TestRedisStore_GridCellUpsert_Integration(t *testing.T) {
	s := redisStoreForTest(t)
	ctx := context.Background()

	id1, err := s.UpsertGridCell(ctx, models.GridCell{GridID: "CTP", GridX: 76, GridY: 64, ForecastURL: "https://a"})
	if err != nil {
		t.Fatalf("UpsertGridCell() error = %v", err)
	}
	id2, err := s.UpsertGridCell(ctx, models.GridCell{GridID: "CTP", GridX: 76, GridY: 64, ForecastURL: "https://b"})
	if err != nil {
		t.Fatalf("UpsertGridCell() second error = %v", err)
	}
	if id1 != id2 {
		t.Fatalf("ids = %d, %d; want identical for same natural key", id1, id2)
	}

	cell, ok, err := s.GridCell(ctx, id1)
	if err != nil || !ok {
		t.Fatalf("GridCell() = ok=%v err=%v", ok, err)
	}
	if cell.ForecastURL != "https://b" {
		t.Fatalf("ForecastURL = %q, want last write", cell.ForecastURL)
	}
}

func TestRedisStore_NearestPointEntry_Integration(t *testing.T) {
	s := redisStoreForTest(t)
	ctx := context.Background()

	err := s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.01, Lon: -76.0, GridCellID: 1, ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("InsertPointEntry() error = %v", err)
	}
	err = s.InsertPointEntry(ctx, models.PointCacheEntry{
		Lat: 40.0, Lon: -76.0, GridCellID: 2, ExpiresAt: time.Now().Add(-time.Hour), // already expired
	})
	if err != nil {
		t.Fatalf("InsertPointEntry() error = %v", err)
	}

	m, ok, err := s.NearestPointEntry(ctx, 40.0, -76.0, 2500)
	if err != nil {
		t.Fatalf("NearestPointEntry() error = %v", err)
	}
	if !ok {
		t.Fatal("NearestPointEntry() ok = false, want unexpired match")
	}
	if m.GridCellID != 1 {
		t.Fatalf("GridCellID = %d, want 1 (expired nearer entry must be skipped)", m.GridCellID)
	}
}

func TestRedisStore_ForecastEntry_Integration(t *testing.T) {
	s := redisStoreForTest(t)
	ctx := context.Background()

	e := models.ForecastCacheEntry{
		GridCellID: 5, Type: models.ForecastHourly,
		Data: []byte(`{"periods":[]}`), StatusCode: 200,
		ETag: `"v1"`, ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	if err := s.UpsertForecastEntry(ctx, e); err != nil {
		t.Fatalf("UpsertForecastEntry() error = %v", err)
	}
	got, ok, err := s.ForecastEntry(ctx, 5, models.ForecastHourly)
	if err != nil || !ok {
		t.Fatalf("ForecastEntry() = ok=%v err=%v", ok, err)
	}
	if got.ETag != `"v1"` || string(got.Data) != `{"periods":[]}` {
		t.Fatalf("ForecastEntry() = %+v, want stored entry", got)
	}
}
