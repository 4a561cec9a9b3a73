package fleet

import (
	"strings"

	"github.com/ukydev/busflow/internal/models"
)

// Snapshot is an immutable view of the fleet at one committed mutation.
// Its slices are shared between readers and must not be modified.
type Snapshot struct {
	Seq     uint64          `json:"seq"`
	Buses   []models.Bus    `json:"buses"`
	Drivers []models.Driver `json:"drivers"`
}

// Bus looks a bus up by id.
func (s *Snapshot) Bus(id string) (models.Bus, bool) {
	if i := s.busIndex(id); i >= 0 {
		return s.Buses[i], true
	}
	return models.Bus{}, false
}

// Driver looks a driver up by id.
func (s *Snapshot) Driver(id string) (models.Driver, bool) {
	if i := s.driverIndex(id); i >= 0 {
		return s.Drivers[i], true
	}
	return models.Driver{}, false
}

// DriverByEmail returns the first driver registered with email, ignoring case.
func (s *Snapshot) DriverByEmail(email string) (models.Driver, bool) {
	if email == "" {
		return models.Driver{}, false
	}
	for _, d := range s.Drivers {
		if strings.EqualFold(d.Email, email) {
			return d, true
		}
	}
	return models.Driver{}, false
}

// BusForDriver returns the first bus whose DriverID is driverID.
func (s *Snapshot) BusForDriver(driverID string) (models.Bus, bool) {
	if driverID == "" {
		return models.Bus{}, false
	}
	for _, b := range s.Buses {
		if b.DriverID == driverID {
			return b, true
		}
	}
	return models.Bus{}, false
}

func (s *Snapshot) busIndex(id string) int {
	for i := range s.Buses {
		if s.Buses[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Snapshot) driverIndex(id string) int {
	for i := range s.Drivers {
		if s.Drivers[i].ID == id {
			return i
		}
	}
	return -1
}
