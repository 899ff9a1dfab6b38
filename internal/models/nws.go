package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ForecastType identifies one of the three NWS forecast products tracked per grid cell.
type ForecastType string

const (
	ForecastDaily    ForecastType = "forecast"
	ForecastHourly   ForecastType = "hourly"
	ForecastGridData ForecastType = "griddata"
)

// ForecastTypes returns the product types in bundle-assembly order.
func ForecastTypes() []ForecastType {
	return []ForecastType{ForecastDaily, ForecastHourly, ForecastGridData}
}

// GridCell is the durable record of an NWS grid assignment, uniquely
// identified by (GridID, GridX, GridY). Created and updated only from the
// upstream /points resource; never deleted.
type GridCell struct {
	ID                int64           `json:"id"`
	GridID            string          `json:"gridId"`
	GridX             int             `json:"gridX"`
	GridY             int             `json:"gridY"`
	ForecastURL       string          `json:"forecastUrl,omitempty"`
	ForecastHourlyURL string          `json:"forecastHourlyUrl,omitempty"`
	GridDataURL       string          `json:"gridDataUrl,omitempty"`
	StationsURL       string          `json:"stationsUrl,omitempty"`
	TimeZone          string          `json:"timeZone,omitempty"`
	RadarStation      string          `json:"radarStation,omitempty"`
	Raw               json.RawMessage `json:"raw,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt,omitempty"`
}

// NaturalKey returns the upsert key for the cell.
func (c GridCell) NaturalKey() string {
	return fmt.Sprintf("%s:%d:%d", c.GridID, c.GridX, c.GridY)
}

// ProductURL returns the resource URL for the given forecast type, or ""
// when the upstream metadata did not include one.
func (c GridCell) ProductURL(t ForecastType) string {
	switch t {
	case ForecastDaily:
		return c.ForecastURL
	case ForecastHourly:
		return c.ForecastHourlyURL
	case ForecastGridData:
		return c.GridDataURL
	}
	return ""
}

// PointCacheEntry associates a previously-seen query coordinate with a
// resolved grid cell. Entries are append-only; expiry is enforced by
// filtering at read time, never by deletion.
type PointCacheEntry struct {
	Lat          float64
	Lon          float64
	GridCellID   int64
	DistanceM    float64
	ETag         string
	LastModified time.Time
	FetchedAt    time.Time
	ExpiresAt    time.Time
}

// Station is an NWS observation station. A missing coordinate is legal.
type Station struct {
	ID          int64
	Identifier  string
	Name        string
	HasLocation bool
	Lat         float64
	Lon         float64
}

// StationLink associates a station with a grid cell. Priority is the
// station's 0-based position in the upstream feed, lower preferred;
// re-linking overwrites it.
type StationLink struct {
	GridCellID int64
	StationID  int64
	Priority   int
}

// ForecastCacheEntry is the cached state of one forecast product for one
// grid cell, keyed by (GridCellID, Type). Upserted on every fetch attempt;
// Data survives failed fetches so stale-if-error has something to serve.
type ForecastCacheEntry struct {
	GridCellID   int64
	Type         ForecastType
	URL          string
	Data         json.RawMessage
	StatusCode   int
	Error        string
	ETag         string
	LastModified time.Time
	FetchedAt    time.Time
	ExpiresAt    time.Time
}

// Fresh reports whether the entry can be served without revalidation.
func (e ForecastCacheEntry) Fresh(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Query echoes the requested coordinate in the bundle response.
type Query struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BundleGridCell is the grid identity included in the bundle response.
type BundleGridCell struct {
	ID       int64  `json:"id"`
	GridID   string `json:"gridId"`
	GridX    int    `json:"gridX"`
	GridY    int    `json:"gridY"`
	TimeZone string `json:"timeZone,omitempty"`
}

// ForecastBundle is the assembled response for one coordinate query. Data
// holds the raw payload per product, or an in-band error marker when a
// product could not be produced. Trace is the ordered decision log.
type ForecastBundle struct {
	OK             bool                             `json:"ok"`
	Query          Query                            `json:"query"`
	GridCell       BundleGridCell                   `json:"gridCell"`
	StationsLinked int                              `json:"stationsLinked"`
	Trace          []string                         `json:"trace"`
	Data           map[ForecastType]json.RawMessage `json:"data"`
}

// ProductError is the in-band marker stored in a bundle slot when a product
// fetch failed and no stale payload was available.
type ProductError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// Marker renders the in-band error marker as a raw JSON value.
func (p ProductError) Marker() json.RawMessage {
	b, _ := json.Marshal(p)
	return b
}
