package geo

import (
	"errors"
	"math"
	"testing"
)

func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{name: "valid", lat: 40.0, lon: -76.0},
		{name: "NaN lat", lat: math.NaN(), lon: -76.0, wantErr: true},
		{name: "NaN lon", lat: 40.0, lon: math.NaN(), wantErr: true},
		{name: "inf lat", lat: math.Inf(1), lon: -76.0, wantErr: true},
		{name: "lat too high", lat: 90.01, lon: 0, wantErr: true},
		{name: "lat too low", lat: -90.01, lon: 0, wantErr: true},
		{name: "lon too high", lat: 0, lon: 180.01, wantErr: true},
		{name: "lon too low", lat: 0, lon: -180.01, wantErr: true},
		{name: "boundary lat", lat: 90, lon: 180},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCoordinate(tc.lat, tc.lon)
			if tc.wantErr {
				if !errors.Is(err, ErrCoordinateInvalid) {
					t.Fatalf("ValidateCoordinate(%v, %v) = %v, want ErrCoordinateInvalid", tc.lat, tc.lon, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateCoordinate(%v, %v) = %v, want nil", tc.lat, tc.lon, err)
			}
		})
	}
}

// TestValidateInBounds verifies that the service-area check produces an error
// distinct from the coordinate-range check.
func TestValidateInBounds(t *testing.T) {
	// Harrisburg: inside PA.
	if err := ValidateInBounds(40.27, -76.88, PennsylvaniaBounds); err != nil {
		t.Fatalf("ValidateInBounds(Harrisburg) = %v, want nil", err)
	}

	// Seattle: valid coordinate, outside PA.
	err := ValidateInBounds(47.6, -122.3, PennsylvaniaBounds)
	if !errors.Is(err, ErrOutsideServiceArea) {
		t.Fatalf("ValidateInBounds(Seattle) = %v, want ErrOutsideServiceArea", err)
	}
	if errors.Is(err, ErrCoordinateInvalid) {
		t.Fatal("service-area error must not match ErrCoordinateInvalid")
	}
}

func TestHaversineMeters(t *testing.T) {
	// Same point.
	if d := HaversineMeters(40.0, -76.0, 40.0, -76.0); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}

	// One degree of latitude is ~111.2 km.
	d := HaversineMeters(40.0, -76.0, 41.0, -76.0)
	if d < 110000 || d > 112500 {
		t.Fatalf("one degree latitude = %v m, want ~111200", d)
	}

	// Small offsets stay within the resolver radius scale.
	d = HaversineMeters(40.0, -76.0, 40.01, -76.0)
	if d < 1000 || d > 1300 {
		t.Fatalf("0.01 degree latitude = %v m, want ~1112", d)
	}
}
