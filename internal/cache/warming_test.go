package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
)

type mockBundleFetcher struct {
	err error
}

func (m *mockBundleFetcher) GetForecastBundle(ctx context.Context, lat, lon float64) (models.ForecastBundle, error) {
	if m.err != nil {
		return models.ForecastBundle{}, m.err
	}
	b := testBundle(lat, lon)
	return b, nil
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	warmer := NewCacheWarmer(&mockBundleFetcher{}, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []Coordinate{{Lat: 40.2732, Lon: -76.8867}, {Lat: 40.4406, Lon: -79.9959}})
	if err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_EmptyCoordinates(t *testing.T) {
	warmer := NewCacheWarmer(&mockBundleFetcher{}, nil)
	ctx := context.Background()

	if err := warmer.Warm(ctx, nil); err != nil {
		t.Fatalf("Warm() with nil coordinates error = %v, want nil", err)
	}
	if err := warmer.Warm(ctx, []Coordinate{}); err != nil {
		t.Fatalf("Warm() with empty coordinates error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_FetcherError(t *testing.T) {
	warmer := NewCacheWarmer(&mockBundleFetcher{err: errors.New("upstream down")}, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []Coordinate{{Lat: 40.2732, Lon: -76.8867}})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("Warm() error = %q, want message containing fetch failure", err)
	}
}
