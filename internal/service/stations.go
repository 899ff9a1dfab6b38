package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/adventureadjacent/mapcase-weather/internal/models"
	"github.com/adventureadjacent/mapcase-weather/internal/observability"
	"github.com/adventureadjacent/mapcase-weather/internal/store"
)

// StationDirectory maintains the observation stations associated with each
// grid cell.
type StationDirectory struct {
	store  store.Store
	logger *zap.Logger
}

// NewStationDirectory creates a StationDirectory.
func NewStationDirectory(st store.Store, logger *zap.Logger) *StationDirectory {
	return &StationDirectory{store: st, logger: logger}
}

// Refresh upserts every station in the upstream feed and links it to the
// grid cell with its feed position as priority. Records without a station
// identifier are skipped; per-record store failures drop that record rather
// than the whole refresh. Returns the number of stations linked.
func (d *StationDirectory) Refresh(ctx context.Context, gridCellID int64, feed map[string]interface{}) int {
	features, ok := feed["features"].([]interface{})
	if !ok {
		return 0
	}

	linked := 0
	for i, raw := range features {
		feature, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		props, ok := feature["properties"].(map[string]interface{})
		if !ok {
			continue
		}
		identifier := jsonString(props["stationIdentifier"])
		if identifier == "" {
			continue
		}

		st := models.Station{
			Identifier: identifier,
			Name:       jsonString(props["name"]),
		}
		if geom, ok := feature["geometry"].(map[string]interface{}); ok {
			if coords, ok := geom["coordinates"].([]interface{}); ok && len(coords) == 2 {
				lon, okLon := jsonFloat(coords[0])
				lat, okLat := jsonFloat(coords[1])
				if okLon && okLat {
					st.HasLocation = true
					st.Lon = lon
					st.Lat = lat
				}
			}
		}

		stationID, err := d.store.UpsertStation(ctx, st)
		if err != nil {
			d.logger.Warn("failed to upsert station",
				zap.String("identifier", identifier), zap.Error(err))
			continue
		}
		link := models.StationLink{GridCellID: gridCellID, StationID: stationID, Priority: i}
		if err := d.store.UpsertStationLink(ctx, link); err != nil {
			d.logger.Warn("failed to link station",
				zap.String("identifier", identifier), zap.Int64("gridCellId", gridCellID), zap.Error(err))
			continue
		}
		linked++
	}

	if linked == 0 && len(features) > 0 {
		observability.StationRefreshFailuresTotal.Inc()
	}
	observability.StationsLinkedTotal.Add(float64(linked))
	return linked
}
