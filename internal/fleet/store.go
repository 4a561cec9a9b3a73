package fleet

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/models"
)

// EventKind names the mutation that produced an Event.
type EventKind string

const (
	EventSeeded          EventKind = "seeded"
	EventBusAdded        EventKind = "bus_added"
	EventBusUpdated      EventKind = "bus_updated"
	EventBusDeleted      EventKind = "bus_deleted"
	EventDriverAdded     EventKind = "driver_added"
	EventLocationUpdated EventKind = "location_updated"
	EventBusesAdvanced   EventKind = "buses_advanced"
)

// Event is emitted after every committed mutation.
type Event struct {
	Seq      uint64
	Kind     EventKind
	BusID    string
	DriverID string
	Snapshot *Snapshot
}

// Listener receives events in commit order, synchronously, while the store is
// locked. It must return quickly and must not call mutating Store methods.
type Listener func(Event)

// Confirmer is asked before a destructive change. Returning false aborts it.
type Confirmer func(bus models.Bus) bool

// Confirmed approves every confirmation request.
func Confirmed(models.Bus) bool { return true }

// Move is a new position and speed for one bus.
type Move struct {
	Lat   float64
	Lng   float64
	Speed float64
}

// Store is the single source of truth for buses and drivers. Every mutation
// replaces the current Snapshot with a new one.
type Store struct {
	mu        sync.Mutex
	state     *Snapshot
	now       func() time.Time
	log       logrus.FieldLogger
	listeners []listenerEntry
	nextID    int
}

type listenerEntry struct {
	id int
	fn Listener
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Store{
		state: &Snapshot{},
		now:   time.Now,
		log:   discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the latest committed state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: l})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.listeners {
			if e.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Seed loads the bootstrap fleet. Drivers go first so bus assignments
// establish the back-references.
func (s *Store) Seed(drivers []models.Driver, buses []models.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nextDrivers := cloneDrivers(s.state.Drivers)
	nextBuses := cloneBuses(s.state.Buses)
	for _, d := range drivers {
		d.CurrentBusID = ""
		nextDrivers = append(nextDrivers, d)
	}
	for _, b := range buses {
		nextBuses = append(nextBuses, b)
		nextDrivers = linkDriver(nextDrivers, b)
	}
	s.commit(EventSeeded, "", "", nextBuses, nextDrivers)
	s.log.WithFields(logrus.Fields{"buses": len(nextBuses), "drivers": len(nextDrivers)}).Info("Fleet seeded")
}

// AddBus appends bus. Plate numbers are not de-duplicated.
func (s *Store) AddBus(bus models.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buses := append(cloneBuses(s.state.Buses), bus)
	drivers := linkDriver(s.state.Drivers, bus)
	s.commit(EventBusAdded, bus.ID, bus.DriverID, buses, drivers)
}

// UpdateBus replaces the administrative fields of the bus with bus.ID:
// plate, model, status and driver. Position fields belong to location
// updates and keep their latest committed values. Reports false when no
// such bus exists.
func (s *Store) UpdateBus(bus models.Bus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.busIndex(bus.ID)
	if i < 0 {
		s.log.WithField("bus_id", bus.ID).Debug("Update of unknown bus ignored")
		return false
	}
	buses := cloneBuses(s.state.Buses)
	cur := buses[i]
	cur.PlateNumber = bus.PlateNumber
	cur.Model = bus.Model
	cur.Status = bus.Status
	cur.DriverID = bus.DriverID
	cur.LastUpdated = s.stamp(cur.LastUpdated)
	buses[i] = cur
	drivers := linkDriver(s.state.Drivers, cur)
	s.commit(EventBusUpdated, cur.ID, cur.DriverID, buses, drivers)
	return true
}

// DeleteBus removes the bus after confirm approves it. The confirmer runs
// without the store lock held. A nil confirmer counts as a refusal.
func (s *Store) DeleteBus(id string, confirm Confirmer) bool {
	bus, ok := s.Snapshot().Bus(id)
	if !ok {
		return false
	}
	if confirm == nil || !confirm(bus) {
		s.log.WithField("bus_id", id).Info("Bus deletion cancelled")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.busIndex(id)
	if i < 0 {
		return false
	}
	buses := make([]models.Bus, 0, len(s.state.Buses)-1)
	buses = append(buses, s.state.Buses[:i]...)
	buses = append(buses, s.state.Buses[i+1:]...)
	drivers := cloneDrivers(s.state.Drivers)
	for j := range drivers {
		if drivers[j].CurrentBusID == id {
			drivers[j].CurrentBusID = ""
		}
	}
	s.commit(EventBusDeleted, id, bus.DriverID, buses, drivers)
	s.log.WithField("bus_id", id).Info("Bus deleted")
	return true
}

// AddDriver appends driver. Email and phone are not de-duplicated. A
// CurrentBusID is kept only if that bus already names this driver.
func (s *Store) AddDriver(driver models.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if driver.CurrentBusID != "" {
		if b, ok := s.state.Bus(driver.CurrentBusID); !ok || b.DriverID != driver.ID {
			driver.CurrentBusID = ""
		}
	}
	drivers := append(cloneDrivers(s.state.Drivers), driver)
	s.commit(EventDriverAdded, driver.CurrentBusID, driver.ID, cloneBuses(s.state.Buses), drivers)
}

// UpdateBusLocation is the high-frequency path. It replaces the location,
// speed and LastUpdated of the bus and forces it ON_ROAD. Reports false
// when no such bus exists.
func (s *Store) UpdateBusLocation(busID string, loc models.Location, speed float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.busIndex(busID)
	if i < 0 {
		return false
	}
	s.moveLocked(i, loc, speed)
	return true
}

// UpdateDriverBusLocation is UpdateBusLocation for a bus that must still be
// assigned to driverID. It changes nothing and reports false when the bus is
// gone or belongs to someone else.
func (s *Store) UpdateDriverBusLocation(driverID, busID string, loc models.Location, speed float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.busIndex(busID)
	if i < 0 || driverID == "" || s.state.Buses[i].DriverID != driverID {
		return false
	}
	s.moveLocked(i, loc, speed)
	return true
}

func (s *Store) moveLocked(i int, loc models.Location, speed float64) {
	buses := cloneBuses(s.state.Buses)
	b := buses[i]
	b.LastUpdated = s.stamp(b.LastUpdated)
	if loc.Timestamp.IsZero() {
		loc.Timestamp = b.LastUpdated
	}
	b.CurrentLocation = loc
	b.Speed = nonNegative(speed)
	b.Status = models.StatusOnRoad
	buses[i] = b
	s.commit(EventLocationUpdated, b.ID, b.DriverID, buses, s.state.Drivers)
}

// AdvanceBuses applies step to every bus in one atomic mutation. Buses for
// which step reports true get the returned position and speed and a fresh
// timestamp. It returns the number of buses moved.
func (s *Store) AdvanceBuses(step func(models.Bus) (Move, bool)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var buses []models.Bus
	moved := 0
	for i, b := range s.state.Buses {
		m, ok := step(b)
		if !ok {
			continue
		}
		if buses == nil {
			buses = cloneBuses(s.state.Buses)
		}
		b.LastUpdated = s.stamp(b.LastUpdated)
		b.CurrentLocation = models.Location{Lat: m.Lat, Lng: m.Lng, Timestamp: b.LastUpdated}
		b.Speed = nonNegative(m.Speed)
		buses[i] = b
		moved++
	}
	if moved > 0 {
		s.commit(EventBusesAdvanced, "", "", buses, s.state.Drivers)
	}
	return moved
}

// commit must be called with s.mu held.
func (s *Store) commit(kind EventKind, busID, driverID string, buses []models.Bus, drivers []models.Driver) {
	next := &Snapshot{Seq: s.state.Seq + 1, Buses: buses, Drivers: drivers}
	s.state = next
	ev := Event{Seq: next.Seq, Kind: kind, BusID: busID, DriverID: driverID, Snapshot: next}
	for _, e := range s.listeners {
		e.fn(ev)
	}
}

// stamp returns the current time, never earlier than prev.
func (s *Store) stamp(prev time.Time) time.Time {
	t := s.now()
	if t.Before(prev) {
		return prev
	}
	return t
}

// linkDriver returns a copy of drivers in which bus.DriverID points back at
// bus and no other driver does.
func linkDriver(drivers []models.Driver, bus models.Bus) []models.Driver {
	out := cloneDrivers(drivers)
	for i := range out {
		switch {
		case bus.DriverID != "" && out[i].ID == bus.DriverID:
			out[i].CurrentBusID = bus.ID
		case out[i].CurrentBusID == bus.ID:
			out[i].CurrentBusID = ""
		}
	}
	return out
}

func cloneBuses(in []models.Bus) []models.Bus {
	out := make([]models.Bus, len(in), len(in)+1)
	copy(out, in)
	return out
}

func cloneDrivers(in []models.Driver) []models.Driver {
	out := make([]models.Driver, len(in), len(in)+1)
	copy(out, in)
	return out
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
