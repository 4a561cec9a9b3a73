package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BusStatus is the operational state of a bus.
type BusStatus string

const (
	StatusOnRoad       BusStatus = "ON_ROAD"
	StatusParked       BusStatus = "PARKED"
	StatusOutOfService BusStatus = "OUT_OF_SERVICE"
)

// Valid reports whether s is one of the known statuses.
func (s BusStatus) Valid() bool {
	switch s {
	case StatusOnRoad, StatusParked, StatusOutOfService:
		return true
	default:
		return false
	}
}

// Bus represents a fleet vehicle and its last known position.
type Bus struct {
	ID              string    `json:"id"`
	PlateNumber     string    `json:"plate_number"`
	Model           string    `json:"model"`
	Status          BusStatus `json:"status"`
	DriverID        string    `json:"driver_id"` // empty when unassigned
	CurrentLocation Location  `json:"current_location"`
	LastUpdated     time.Time `json:"last_updated"`
	Speed           float64   `json:"speed"` // km/h
}

// HasDriver reports whether a driver is assigned to the bus.
func (b Bus) HasDriver() bool {
	return b.DriverID != ""
}

// NewBusID mints an identifier for a bus created at runtime.
func NewBusID() string {
	return "b" + primitive.NewObjectID().Hex()
}

// NewBus builds a parked bus from the admin creation form.
func NewBus(form BusForm, now time.Time) Bus {
	return Bus{
		ID:              NewBusID(),
		PlateNumber:     form.PlateNumber,
		Model:           form.Model,
		Status:          StatusParked,
		DriverID:        form.DriverID,
		CurrentLocation: DefaultLocation(now),
		LastUpdated:     now,
		Speed:           0,
	}
}

// ApplyEdit returns a copy of b with the editable fields replaced by form.
// Location, speed and timestamps are kept.
func (b Bus) ApplyEdit(form BusEditForm) Bus {
	b.PlateNumber = form.PlateNumber
	b.Model = form.Model
	b.Status = form.Status
	b.DriverID = form.DriverID
	return b
}
