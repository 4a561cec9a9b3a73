package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/busflow/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seededStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	now := clock.Now()
	s.Seed(
		[]models.Driver{
			{ID: "a1", Name: "General Manager", Email: "admin@busflow.dz", IsActive: true, CurrentBusID: "b1"},
			{ID: "d1", Name: "Ahmed Ben Ali", Email: "ahmed@busflow.dz", IsActive: true, CurrentBusID: "b1"},
			{ID: "d2", Name: "Sofiane Mansour", Email: "sofiane@busflow.dz", IsActive: true, CurrentBusID: "b2"},
		},
		[]models.Bus{
			{ID: "b1", PlateNumber: "00123-124-16", Status: models.StatusOnRoad, DriverID: "d1",
				CurrentLocation: models.Location{Lat: 36.7538, Lng: 3.0588, Timestamp: now}, LastUpdated: now, Speed: 45},
			{ID: "b2", PlateNumber: "09876-121-16", Status: models.StatusParked, DriverID: "d2",
				CurrentLocation: models.Location{Lat: 36.7638, Lng: 3.0688, Timestamp: now}, LastUpdated: now},
		},
	)
	return s, clock
}

// assertBusLinked checks that the driver of busID points back at it and no
// other driver does.
func assertBusLinked(t *testing.T, snap *Snapshot, busID string) {
	t.Helper()
	b, ok := snap.Bus(busID)
	require.True(t, ok, "bus %s missing", busID)
	for _, d := range snap.Drivers {
		if b.DriverID != "" && d.ID == b.DriverID {
			assert.Equal(t, b.ID, d.CurrentBusID, "driver %s should point at %s", d.ID, b.ID)
		} else {
			assert.NotEqual(t, b.ID, d.CurrentBusID, "driver %s must not point at %s", d.ID, b.ID)
		}
	}
}

// assertLinks checks every bus. Only valid when no driver drives two buses.
func assertLinks(t *testing.T, snap *Snapshot) {
	t.Helper()
	for _, b := range snap.Buses {
		assertBusLinked(t, snap, b.ID)
	}
}

func TestSeed_NormalisesBackReferences(t *testing.T) {
	s, _ := seededStore(t)
	snap := s.Snapshot()

	require.Len(t, snap.Buses, 2)
	require.Len(t, snap.Drivers, 3)
	admin, _ := snap.Driver("a1")
	assert.Empty(t, admin.CurrentBusID)
	assertLinks(t, snap)
}

func TestAddBus_LinksDriver(t *testing.T) {
	s, clock := seededStore(t)
	s.AddDriver(models.Driver{ID: "d3", Name: "Karim"})

	s.AddBus(models.Bus{ID: "b3", PlateNumber: "11111-111-16", Status: models.StatusParked, DriverID: "d3", LastUpdated: clock.Now()})

	snap := s.Snapshot()
	d3, ok := snap.Driver("d3")
	require.True(t, ok)
	assert.Equal(t, "b3", d3.CurrentBusID)
	assertLinks(t, snap)
}

func TestAddBus_DuplicatePlatesAllowed(t *testing.T) {
	s, _ := seededStore(t)
	s.AddBus(models.Bus{ID: "b3", PlateNumber: "00123-124-16"})
	assert.Len(t, s.Snapshot().Buses, 3)
}

func TestUpdateBus_Reassignment(t *testing.T) {
	s, _ := seededStore(t)
	b1, _ := s.Snapshot().Bus("b1")
	b1.DriverID = "d2"

	require.True(t, s.UpdateBus(b1))

	snap := s.Snapshot()
	d1, _ := snap.Driver("d1")
	d2, _ := snap.Driver("d2")
	assert.Equal(t, "b1", d2.CurrentBusID)
	assert.Empty(t, d1.CurrentBusID)
	assertBusLinked(t, snap, "b1")
}

func TestUpdateBus_Unassign(t *testing.T) {
	s, _ := seededStore(t)
	b1, _ := s.Snapshot().Bus("b1")
	b1.DriverID = ""

	require.True(t, s.UpdateBus(b1))

	d1, _ := s.Snapshot().Driver("d1")
	assert.Empty(t, d1.CurrentBusID)
	assertLinks(t, s.Snapshot())
}

func TestUpdateBus_KeepsLatestLocation(t *testing.T) {
	s, clock := seededStore(t)
	stale, _ := s.Snapshot().Bus("b1")

	clock.Advance(time.Second)
	loc := models.Location{Lat: 36.80, Lng: 3.10, Timestamp: clock.Now()}
	require.True(t, s.UpdateBusLocation("b1", loc, 40))

	stale.Model = "Mercedes-Benz O530"
	require.True(t, s.UpdateBus(stale))

	b1, _ := s.Snapshot().Bus("b1")
	assert.Equal(t, "Mercedes-Benz O530", b1.Model)
	assert.Equal(t, loc, b1.CurrentLocation)
	assert.Equal(t, 40.0, b1.Speed)
}

func TestUpdateBus_UnknownIsNoop(t *testing.T) {
	s, _ := seededStore(t)
	before := s.Snapshot()

	assert.False(t, s.UpdateBus(models.Bus{ID: "nope", DriverID: "d1"}))
	assert.Same(t, before, s.Snapshot())
}

func TestDeleteBus_RequiresConfirmation(t *testing.T) {
	s, _ := seededStore(t)
	before := s.Snapshot()

	var asked models.Bus
	ok := s.DeleteBus("b1", func(b models.Bus) bool {
		asked = b
		return false
	})

	assert.False(t, ok)
	assert.Equal(t, "b1", asked.ID)
	assert.Same(t, before, s.Snapshot(), "refused confirmation must not mutate")

	assert.False(t, s.DeleteBus("b1", nil))
	assert.Len(t, s.Snapshot().Buses, 2)
}

func TestDeleteBus_ClearsBackReferences(t *testing.T) {
	s, _ := seededStore(t)

	require.True(t, s.DeleteBus("b1", Confirmed))

	snap := s.Snapshot()
	_, ok := snap.Bus("b1")
	assert.False(t, ok)
	for _, d := range snap.Drivers {
		assert.NotEqual(t, "b1", d.CurrentBusID)
	}
	assertLinks(t, snap)
}

func TestDeleteBus_UnknownDoesNotAsk(t *testing.T) {
	s, _ := seededStore(t)
	called := false
	assert.False(t, s.DeleteBus("missing", func(models.Bus) bool {
		called = true
		return true
	}))
	assert.False(t, called)
}

func TestAddDriver_DropsDanglingBackReference(t *testing.T) {
	s, _ := seededStore(t)
	s.AddDriver(models.Driver{ID: "d3", CurrentBusID: "b1"})
	s.AddDriver(models.Driver{ID: "d4", CurrentBusID: "b404"})

	snap := s.Snapshot()
	d3, _ := snap.Driver("d3")
	d4, _ := snap.Driver("d4")
	assert.Empty(t, d3.CurrentBusID)
	assert.Empty(t, d4.CurrentBusID)
	assertLinks(t, snap)
}

func TestUpdateBusLocation_ForcesOnRoad(t *testing.T) {
	s, clock := seededStore(t)
	clock.Advance(time.Second)

	loc := models.Location{Lat: 36.77, Lng: 3.07, Timestamp: clock.Now()}
	require.True(t, s.UpdateBusLocation("b2", loc, 33))

	b2, _ := s.Snapshot().Bus("b2")
	assert.Equal(t, models.StatusOnRoad, b2.Status)
	assert.Equal(t, loc, b2.CurrentLocation)
	assert.Equal(t, 33.0, b2.Speed)
	assert.Equal(t, clock.Now(), b2.LastUpdated)
}

func TestUpdateBusLocation_Idempotent(t *testing.T) {
	s, clock := seededStore(t)
	loc := models.Location{Lat: 36.77, Lng: 3.07, Timestamp: clock.Now()}

	require.True(t, s.UpdateBusLocation("b2", loc, 33))
	first, _ := s.Snapshot().Bus("b2")
	clock.Advance(time.Second)
	require.True(t, s.UpdateBusLocation("b2", loc, 33))
	second, _ := s.Snapshot().Bus("b2")

	assert.False(t, second.LastUpdated.Before(first.LastUpdated))
	first.LastUpdated, second.LastUpdated = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestUpdateBusLocation_MissingTimestampAndNegativeSpeed(t *testing.T) {
	s, clock := seededStore(t)
	require.True(t, s.UpdateBusLocation("b1", models.Location{Lat: 1, Lng: 2}, -5))

	b1, _ := s.Snapshot().Bus("b1")
	assert.Equal(t, clock.Now(), b1.CurrentLocation.Timestamp)
	assert.Equal(t, 0.0, b1.Speed)
	assert.False(t, s.UpdateBusLocation("ghost", models.Location{}, 10))
}

func TestUpdateDriverBusLocation_RequiresAssignment(t *testing.T) {
	s, clock := seededStore(t)
	loc := models.Location{Lat: 36.77, Lng: 3.07, Timestamp: clock.Now()}

	require.True(t, s.UpdateDriverBusLocation("d2", "b2", loc, 20))
	b2, _ := s.Snapshot().Bus("b2")
	assert.Equal(t, models.StatusOnRoad, b2.Status)
	assert.Equal(t, loc, b2.CurrentLocation)

	before := s.Snapshot()
	assert.False(t, s.UpdateDriverBusLocation("d1", "b2", models.Location{Lat: 1, Lng: 1}, 10), "someone else's bus")
	assert.False(t, s.UpdateDriverBusLocation("", "b2", models.Location{Lat: 1, Lng: 1}, 10))
	assert.False(t, s.UpdateDriverBusLocation("d2", "ghost", models.Location{Lat: 1, Lng: 1}, 10))

	unassigned := b2
	unassigned.DriverID = ""
	unassigned.Status = models.StatusParked
	require.True(t, s.UpdateBus(unassigned))
	assert.False(t, s.UpdateDriverBusLocation("d2", "b2", models.Location{Lat: 1, Lng: 1}, 10))
	b2, _ = s.Snapshot().Bus("b2")
	assert.Equal(t, models.StatusParked, b2.Status, "an unassigned bus is not put on the road")
	assert.Equal(t, loc, b2.CurrentLocation)
	assert.Greater(t, s.Snapshot().Seq, before.Seq)
}

func TestLastUpdated_NeverMovesBackwards(t *testing.T) {
	s, clock := seededStore(t)
	clock.Advance(10 * time.Second)
	require.True(t, s.UpdateBusLocation("b1", models.Location{Lat: 1, Lng: 1}, 30))
	high, _ := s.Snapshot().Bus("b1")

	clock.Advance(-time.Minute)
	s.AdvanceBuses(func(b models.Bus) (Move, bool) {
		return Move{Lat: 2, Lng: 2, Speed: 31}, b.ID == "b1"
	})

	b1, _ := s.Snapshot().Bus("b1")
	assert.Equal(t, high.LastUpdated, b1.LastUpdated)
}

func TestAdvanceBuses(t *testing.T) {
	s, clock := seededStore(t)
	clock.Advance(5 * time.Second)

	moved := s.AdvanceBuses(func(b models.Bus) (Move, bool) {
		if b.Status != models.StatusOnRoad {
			return Move{}, false
		}
		return Move{Lat: b.CurrentLocation.Lat + 0.0001, Lng: b.CurrentLocation.Lng, Speed: 35}, true
	})

	assert.Equal(t, 1, moved)
	b1, _ := s.Snapshot().Bus("b1")
	b2, _ := s.Snapshot().Bus("b2")
	assert.InDelta(t, 36.7539, b1.CurrentLocation.Lat, 1e-9)
	assert.Equal(t, clock.Now(), b1.LastUpdated)
	assert.Equal(t, clock.Now(), b1.CurrentLocation.Timestamp)
	assert.Equal(t, 0.0, b2.Speed, "parked bus untouched")

	seq := s.Snapshot().Seq
	assert.Zero(t, s.AdvanceBuses(func(models.Bus) (Move, bool) { return Move{}, false }))
	assert.Equal(t, seq, s.Snapshot().Seq, "no-op tick commits nothing")
}

func TestSubscribe_EventsInCommitOrder(t *testing.T) {
	s, _ := seededStore(t)
	var kinds []EventKind
	var seqs []uint64
	cancel := s.Subscribe(func(ev Event) {
		kinds = append(kinds, ev.Kind)
		seqs = append(seqs, ev.Seq)
		assert.Equal(t, ev.Seq, ev.Snapshot.Seq)
	})

	s.AddDriver(models.Driver{ID: "d3"})
	s.UpdateBusLocation("b1", models.Location{Lat: 1, Lng: 1}, 40)
	s.DeleteBus("b2", Confirmed)
	cancel()
	s.AddDriver(models.Driver{ID: "d4"})

	assert.Equal(t, []EventKind{EventDriverAdded, EventLocationUpdated, EventBusDeleted}, kinds)
	require.Len(t, seqs, 3)
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])
}

func TestSnapshot_IsImmutable(t *testing.T) {
	s, _ := seededStore(t)
	before := s.Snapshot()
	b1Before, _ := before.Bus("b1")

	s.UpdateBusLocation("b1", models.Location{Lat: 10, Lng: 10}, 10)

	again, _ := before.Bus("b1")
	assert.Equal(t, b1Before, again)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s, _ := seededStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.UpdateBusLocation("b1", models.Location{Lat: 36.75, Lng: 3.05}, 40)
		}()
		go func() {
			defer wg.Done()
			s.AdvanceBuses(func(b models.Bus) (Move, bool) { return Move{Lat: 1, Lng: 1, Speed: 30}, b.ID == "b2" })
		}()
		go func(i int) {
			defer wg.Done()
			b, _ := s.Snapshot().Bus("b1")
			if i%2 == 0 {
				b.DriverID = "d2"
			} else {
				b.DriverID = "d1"
			}
			s.UpdateBus(b)
		}(i)
	}
	wg.Wait()
	assertBusLinked(t, s.Snapshot(), "b1")
}
