package main

import (
	"iter"
	"math"
	"math/rand"
	"time"

	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/simulator"
	"github.com/ukydev/busflow/internal/tracking"
)

// Stops around central Algiers, driven in a loop.
var stops = []models.Location{
	{Lat: 36.7538, Lng: 3.0588}, // Place des Martyrs
	{Lat: 36.7631, Lng: 3.0506}, // Bab El Oued
	{Lat: 36.7725, Lng: 3.0587}, // Casbah
	{Lat: 36.7667, Lng: 3.0667}, // Grande Poste
	{Lat: 36.7525, Lng: 3.0420}, // El Madania
	{Lat: 36.7372, Lng: 3.0864}, // Hussein Dey
}

func jitterLocation(r *rand.Rand, base models.Location, meters float64) models.Location {
	latMetersPerDeg := 111320.0
	lngMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (r.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLng := (r.Float64()*2 - 1) * (meters / lngMetersPerDeg)
	return models.Location{Lat: base.Lat + dLat, Lng: base.Lng + dLng}
}

func haversineKm(a, b models.Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

func lerp(a, b models.Location, t float64) models.Location {
	return models.Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// Device is an emulated phone on board a bus.
type Device struct {
	Position models.Location
	SpeedKmh float64

	route     []models.Location
	segIndex  int
	segOffset float64 // km along the current segment
	rnd       *rand.Rand
}

// NewDevice places a device near the first stop of route. An empty route
// uses the built-in loop.
func NewDevice(r *rand.Rand, route []models.Location) *Device {
	if len(route) < 2 {
		route = stops
	}
	pts := make([]models.Location, 0, len(route)+1)
	for _, p := range route {
		pts = append(pts, jitterLocation(r, p, 30))
	}
	pts = append(pts, pts[0])
	return &Device{
		Position: pts[0],
		SpeedKmh: 30 + r.Float64()*20,
		route:    pts,
		rnd:      r,
	}
}

// Step moves the device along its route for the given elapsed time.
func (d *Device) Step(elapsed time.Duration) {
	d.SpeedKmh += (d.rnd.Float64()*2 - 1) * 1.5
	if d.SpeedKmh < 15 {
		d.SpeedKmh = 15
	}
	if d.SpeedKmh > 60 {
		d.SpeedKmh = 60
	}

	remKm := d.SpeedKmh * elapsed.Hours()
	for remKm > 0 {
		if d.segIndex >= len(d.route)-1 {
			d.segIndex, d.segOffset = 0, 0
		}
		a := d.route[d.segIndex]
		b := d.route[d.segIndex+1]
		segLen := haversineKm(a, b)
		leftOnSeg := segLen - d.segOffset
		if remKm >= leftOnSeg {
			d.Position = b
			d.segIndex++
			d.segOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (d.segOffset + remKm) / segLen
		d.Position = lerp(a, b, math.Min(math.Max(t, 0), 1))
		d.segOffset += remKm
		remKm = 0
	}
}

// Sample is the fix the device reports now. Speed is in m/s.
func (d *Device) Sample(now time.Time) tracking.Sample {
	speed := d.SpeedKmh / 3.6
	return tracking.Sample{
		Latitude:  d.Position.Lat,
		Longitude: d.Position.Lng,
		Speed:     &speed,
		Timestamp: now.UnixMilli(),
	}
}

// wander emits samples from a random walk instead of a route. The walk
// carries no speed so the server falls back to its own estimate.
func wander(start models.Location, r *rand.Rand) (next func(time.Time) tracking.Sample, stop func()) {
	pull, stop := iter.Pull(simulator.Walk(start, r, simulator.DefaultConfig()))
	return func(now time.Time) tracking.Sample {
		m, _ := pull()
		return sampleFromMove(m, now)
	}, stop
}

func sampleFromMove(m fleet.Move, now time.Time) tracking.Sample {
	return tracking.Sample{Latitude: m.Lat, Longitude: m.Lng, Timestamp: now.UnixMilli()}
}
