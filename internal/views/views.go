// Package views derives the read-only projections each role works from.
// Every function here is pure over the snapshot it is given.
package views

import (
	"errors"

	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrInvalidRole = errors.New("invalid role")
)

// Stats counts buses by status.
type Stats struct {
	Total        int `json:"total"`
	OnRoad       int `json:"on_road"`
	Parked       int `json:"parked"`
	OutOfService int `json:"out_of_service"`
}

// AdminView is everything in the fleet.
type AdminView struct {
	Buses   []models.Bus    `json:"buses"`
	Drivers []models.Driver `json:"drivers"`
	Stats   Stats           `json:"stats"`
}

// DriverView is the driver's own bus, if any.
type DriverView struct {
	Driver *models.Driver `json:"driver,omitempty"`
	Bus    *models.Bus    `json:"bus"`
}

// PassengerView lists buses currently on the road. The driver is resolved
// for the selected bus only, for contact display.
type PassengerView struct {
	Buses          []models.Bus   `json:"buses"`
	Count          int            `json:"count"`
	Selected       *models.Bus    `json:"selected,omitempty"`
	SelectedDriver *models.Driver `json:"selected_driver,omitempty"`
}

// View is the projection for one session. Exactly one of the role fields is set.
type View struct {
	Seq       uint64         `json:"seq"`
	Role      models.Role    `json:"role"`
	Admin     *AdminView     `json:"admin,omitempty"`
	Driver    *DriverView    `json:"driver,omitempty"`
	Passenger *PassengerView `json:"passenger,omitempty"`
}

// CountByStatus aggregates buses by status.
func CountByStatus(buses []models.Bus) Stats {
	s := Stats{Total: len(buses)}
	for _, b := range buses {
		switch b.Status {
		case models.StatusOnRoad:
			s.OnRoad++
		case models.StatusParked:
			s.Parked++
		case models.StatusOutOfService:
			s.OutOfService++
		}
	}
	return s
}

// Admin projects the full fleet with its stats.
func Admin(snap *fleet.Snapshot) AdminView {
	return AdminView{
		Buses:   nonNilBuses(snap.Buses),
		Drivers: nonNilDrivers(snap.Drivers),
		Stats:   CountByStatus(snap.Buses),
	}
}

// ForDriver projects the bus whose DriverID is the user's id.
func ForDriver(snap *fleet.Snapshot, user models.User) DriverView {
	var v DriverView
	if d, ok := snap.Driver(user.ID); ok {
		v.Driver = &d
	}
	if b, ok := snap.BusForDriver(user.ID); ok {
		v.Bus = &b
	}
	return v
}

// Passenger projects the ON_ROAD buses. selectedID resolves only among them.
func Passenger(snap *fleet.Snapshot, selectedID string) PassengerView {
	v := PassengerView{Buses: OnRoad(snap.Buses)}
	v.Count = len(v.Buses)
	for i := range v.Buses {
		if v.Buses[i].ID != selectedID || selectedID == "" {
			continue
		}
		b := v.Buses[i]
		v.Selected = &b
		if d, ok := snap.Driver(b.DriverID); ok {
			v.SelectedDriver = &d
		}
		break
	}
	return v
}

// OnRoad filters buses with status ON_ROAD, keeping their order.
func OnRoad(buses []models.Bus) []models.Bus {
	out := make([]models.Bus, 0, len(buses))
	for _, b := range buses {
		if b.Status == models.StatusOnRoad {
			out = append(out, b)
		}
	}
	return out
}

// Derive picks the projection for the session user.
func Derive(snap *fleet.Snapshot, user *models.User, selectedID string) (View, error) {
	if user == nil {
		return View{}, ErrNoSession
	}
	v := View{Seq: snap.Seq, Role: user.Role}
	switch user.Role {
	case models.RoleAdmin:
		a := Admin(snap)
		v.Admin = &a
	case models.RoleDriver:
		d := ForDriver(snap, *user)
		v.Driver = &d
	case models.RolePassenger:
		p := Passenger(snap, selectedID)
		v.Passenger = &p
	default:
		return View{}, ErrInvalidRole
	}
	return v, nil
}

// Visible returns the buses the user's map shows.
func Visible(snap *fleet.Snapshot, user *models.User) ([]models.Bus, error) {
	if user == nil {
		return nil, ErrNoSession
	}
	switch user.Role {
	case models.RoleAdmin:
		return nonNilBuses(snap.Buses), nil
	case models.RoleDriver:
		if b, ok := snap.BusForDriver(user.ID); ok {
			return []models.Bus{b}, nil
		}
		return []models.Bus{}, nil
	case models.RolePassenger:
		return OnRoad(snap.Buses), nil
	default:
		return nil, ErrInvalidRole
	}
}

func nonNilBuses(b []models.Bus) []models.Bus {
	if b == nil {
		return []models.Bus{}
	}
	return b
}

func nonNilDrivers(d []models.Driver) []models.Driver {
	if d == nil {
		return []models.Driver{}
	}
	return d
}
