package models

import "time"

// Location is a point-in-time GPS fix. Each update replaces the previous one;
// no trail is kept.
type Location struct {
	Lat       float64   `json:"lat" yaml:"lat"`
	Lng       float64   `json:"lng" yaml:"lng"`
	Timestamp time.Time `json:"timestamp" yaml:"-"`
}

// DefaultLocation is where newly registered buses are placed (Algiers centre).
func DefaultLocation(at time.Time) Location {
	return Location{Lat: 36.7538, Lng: 3.0588, Timestamp: at}
}
