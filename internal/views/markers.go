package views

import (
	geojson "github.com/paulmach/go.geojson"
	"github.com/ukydev/busflow/internal/models"
)

// Marker is one bus as handed to the map renderer.
type Marker struct {
	ID          string           `json:"id"`
	Lat         float64          `json:"lat"`
	Lng         float64          `json:"lng"`
	Status      models.BusStatus `json:"status"`
	PlateNumber string           `json:"plate_number"`
	Speed       float64          `json:"speed"`
	Selected    bool             `json:"selected"`
}

// Markers converts buses into renderer tuples.
func Markers(buses []models.Bus, selectedID string) []Marker {
	out := make([]Marker, 0, len(buses))
	for _, b := range buses {
		out = append(out, Marker{
			ID:          b.ID,
			Lat:         b.CurrentLocation.Lat,
			Lng:         b.CurrentLocation.Lng,
			Status:      b.Status,
			PlateNumber: b.PlateNumber,
			Speed:       b.Speed,
			Selected:    selectedID != "" && b.ID == selectedID,
		})
	}
	return out
}

// MarkersGeoJSON renders markers as a FeatureCollection of points.
func MarkersGeoJSON(markers []Marker) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, m := range markers {
		f := geojson.NewPointFeature([]float64{m.Lng, m.Lat})
		f.ID = m.ID
		f.SetProperty("status", string(m.Status))
		f.SetProperty("plate_number", m.PlateNumber)
		f.SetProperty("speed", m.Speed)
		f.SetProperty("selected", m.Selected)
		fc.AddFeature(f)
	}
	return fc
}
