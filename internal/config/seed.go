package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/ukydev/busflow/internal/models"
	"gopkg.in/yaml.v3"
)

// Seed is the bootstrap fleet as written in a YAML seed file.
type Seed struct {
	Drivers []SeedDriver `yaml:"drivers" validate:"dive"`
	Buses   []SeedBus    `yaml:"buses" validate:"dive"`
}

// SeedDriver is one driver entry of a seed file.
type SeedDriver struct {
	ID     string `yaml:"id" validate:"required"`
	Name   string `yaml:"name" validate:"required"`
	Phone  string `yaml:"phone" validate:"required"`
	Email  string `yaml:"email" validate:"required,email"`
	Active *bool  `yaml:"active"` // defaults to true
}

// SeedBus is one bus entry of a seed file.
type SeedBus struct {
	ID          string           `yaml:"id" validate:"required"`
	PlateNumber string           `yaml:"plate_number" validate:"required"`
	Model       string           `yaml:"model" validate:"required"`
	Status      models.BusStatus `yaml:"status" validate:"required,busstatus"`
	DriverID    string           `yaml:"driver_id"`
	Lat         float64          `yaml:"lat" validate:"gte=-90,lte=90"`
	Lng         float64          `yaml:"lng" validate:"gte=-180,lte=180"`
	Speed       float64          `yaml:"speed" validate:"gte=0"`
}

// DefaultSeed is the demo fleet of the reference deployment.
func DefaultSeed() Seed {
	return Seed{
		Drivers: []SeedDriver{
			{ID: "d1", Name: "Ahmed Ben Ali", Phone: "+213500000002", Email: "ahmed@busflow.dz"},
			{ID: "d2", Name: "Sofiane Mansour", Phone: "+213500000003", Email: "sofiane@busflow.dz"},
		},
		Buses: []SeedBus{
			{ID: "b1", PlateNumber: "00123-124-16", Model: "Mercedes-Benz O500", Status: models.StatusOnRoad,
				DriverID: "d1", Lat: 36.7538, Lng: 3.0588, Speed: 45},
			{ID: "b2", PlateNumber: "09876-121-16", Model: "Volvo 9700", Status: models.StatusParked,
				DriverID: "d2", Lat: 36.7638, Lng: 3.0688},
		},
	}
}

// LoadSeed reads and validates the seed file at path. An empty path yields
// DefaultSeed.
func LoadSeed(path string) (Seed, error) {
	if path == "" {
		return DefaultSeed(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, errors.Wrap(err, "read fleet seed")
	}
	s, err := ParseSeed(data)
	if err != nil {
		return Seed{}, errors.Wrapf(err, "fleet seed %s", path)
	}
	return s, nil
}

// ParseSeed decodes and validates a YAML seed.
func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Seed{}, errors.Wrap(err, "decode")
	}
	if err := s.Validate(); err != nil {
		return Seed{}, err
	}
	return s, nil
}

// Validate checks field constraints, id uniqueness and driver references.
// A driver may be assigned to at most one bus.
func (s Seed) Validate() error {
	if err := models.NewValidator().Struct(s); err != nil {
		return errors.Wrap(err, "invalid seed")
	}
	drivers := make(map[string]bool, len(s.Drivers))
	for _, d := range s.Drivers {
		if drivers[d.ID] {
			return errors.Errorf("duplicate driver id %q", d.ID)
		}
		drivers[d.ID] = true
	}
	buses := make(map[string]bool, len(s.Buses))
	assigned := make(map[string]string)
	for _, b := range s.Buses {
		if buses[b.ID] {
			return errors.Errorf("duplicate bus id %q", b.ID)
		}
		buses[b.ID] = true
		if b.DriverID == "" {
			continue
		}
		if !drivers[b.DriverID] {
			return errors.Errorf("bus %q references unknown driver %q", b.ID, b.DriverID)
		}
		if other, ok := assigned[b.DriverID]; ok {
			return errors.Errorf("driver %q assigned to both %q and %q", b.DriverID, other, b.ID)
		}
		assigned[b.DriverID] = b.ID
	}
	return nil
}

// Fleet converts the seed to store records stamped with now.
func (s Seed) Fleet(now time.Time) ([]models.Driver, []models.Bus) {
	drivers := make([]models.Driver, 0, len(s.Drivers))
	for _, d := range s.Drivers {
		active := d.Active == nil || *d.Active
		drivers = append(drivers, models.Driver{
			ID: d.ID, Name: d.Name, Phone: d.Phone, Email: d.Email, IsActive: active,
		})
	}
	buses := make([]models.Bus, 0, len(s.Buses))
	for _, b := range s.Buses {
		buses = append(buses, models.Bus{
			ID:              b.ID,
			PlateNumber:     b.PlateNumber,
			Model:           b.Model,
			Status:          b.Status,
			DriverID:        b.DriverID,
			CurrentLocation: models.Location{Lat: b.Lat, Lng: b.Lng, Timestamp: now},
			LastUpdated:     now,
			Speed:           b.Speed,
		})
	}
	return drivers, buses
}
