package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Driver is a person who can be assigned to at most one bus.
type Driver struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	IsActive     bool   `json:"is_active"`
	CurrentBusID string `json:"current_bus_id,omitempty"` // mirrors Bus.DriverID
}

// NewDriverID mints an identifier for a driver created at runtime.
func NewDriverID() string {
	return "d" + primitive.NewObjectID().Hex()
}

// NewDriver builds an active, unassigned driver from the admin form.
func NewDriver(form DriverForm) Driver {
	return Driver{
		ID:       NewDriverID(),
		Name:     form.Name,
		Phone:    form.Phone,
		Email:    form.Email,
		IsActive: true,
	}
}
