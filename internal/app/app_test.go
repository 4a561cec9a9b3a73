package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/session"
	"github.com/ukydev/busflow/internal/tracking"
	"github.com/ukydev/busflow/internal/views"
)

type fixture struct {
	app  *App
	push *tracking.PushSource
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := fleet.NewStore()
	store.Seed(
		[]models.Driver{
			{ID: "d1", Name: "Ahmed Ben Ali", Email: "ahmed@busflow.dz"},
			{ID: "d2", Name: "Sofiane Mansour", Email: "sofiane@busflow.dz"},
			{ID: "d3", Name: "Karim Haddad", Email: "karim@busflow.dz"},
		},
		[]models.Bus{
			{ID: "b1", Status: models.StatusOnRoad, DriverID: "d1", CurrentLocation: models.Location{Lat: 36.7538, Lng: 3.0588}},
			{ID: "b2", Status: models.StatusOnRoad, DriverID: "d2", CurrentLocation: models.Location{Lat: 36.7638, Lng: 3.0688}},
		},
	)
	cfg := DefaultConfig()
	cfg.Simulator.Interval = 2 * time.Millisecond
	cfg.Watch.Timeout = 0
	push := tracking.NewPushSource()
	a := New(context.Background(), store, session.NewManager(store), push, cfg)
	t.Cleanup(a.Close)
	return fixture{app: a, push: push}
}

func (f fixture) location(busID string) models.Location {
	b, _ := f.app.Store.Snapshot().Bus(busID)
	return b.CurrentLocation
}

func (f fixture) movesEventually(t *testing.T, busID string) {
	t.Helper()
	start := f.location(busID)
	require.Eventually(t, func() bool {
		loc := f.location(busID)
		return loc.Lat != start.Lat || loc.Lng != start.Lng
	}, time.Second, 2*time.Millisecond, "bus %s should move", busID)
}

func TestApp_SimulatorFollowsSession(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.app.SimulatorRunning())

	_, err := f.app.Sessions.Login("", models.RolePassenger)
	require.NoError(t, err)
	assert.True(t, f.app.SimulatorRunning())
	f.movesEventually(t, "b1")

	f.app.Sessions.Logout()
	assert.False(t, f.app.SimulatorRunning())
}

func TestApp_ExclusionCorrectness(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Sessions.Login("ahmed@busflow.dz", models.RoleDriver)
	require.NoError(t, err)

	// before the shift the simulator still moves the driver's bus
	f.movesEventually(t, "b1")

	require.NoError(t, f.app.StartShift())
	st, err := f.app.Shift()
	require.NoError(t, err)
	assert.True(t, st.Tracking)
	assert.Equal(t, "b1", st.BusID)

	held := f.location("b1")
	f.movesEventually(t, "b2")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, held, f.location("b1"), "tracked bus is left to the device")

	require.True(t, f.push.Push("d1", tracking.Position{Latitude: 36.8, Longitude: 3.1}))
	assert.Equal(t, 36.8, f.location("b1").Lat)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 36.8, f.location("b1").Lat)

	require.NoError(t, f.app.StopShift())
	f.movesEventually(t, "b1")
}

func TestApp_ExclusionEndsWithSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Sessions.Login("ahmed@busflow.dz", models.RoleDriver)
	require.NoError(t, err)
	require.NoError(t, f.app.StartShift())

	f.app.Sessions.Logout()
	assert.False(t, f.push.Watching("d1"), "logout cancels the device subscription")
	assert.False(t, f.push.Push("d1", tracking.Position{Latitude: 1, Longitude: 1}))

	_, err = f.app.Sessions.Login("boss@busflow.dz", models.RoleAdmin)
	require.NoError(t, err)
	f.movesEventually(t, "b1")
}

func TestApp_ShiftRequiresDriverWithBus(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.app.StartShift(), ErrNotDriver)

	_, err := f.app.Sessions.Login("boss@busflow.dz", models.RoleAdmin)
	require.NoError(t, err)
	assert.ErrorIs(t, f.app.StartShift(), ErrNotDriver)
	assert.ErrorIs(t, f.app.StopShift(), ErrNotDriver)

	_, err = f.app.Sessions.Login("karim@busflow.dz", models.RoleDriver)
	require.NoError(t, err)
	assert.ErrorIs(t, f.app.StartShift(), tracking.ErrNoAssignedBus)
	st, err := f.app.Shift()
	require.NoError(t, err)
	assert.False(t, st.Tracking)
}

func TestApp_FaultEndsShift(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Sessions.Login("sofiane@busflow.dz", models.RoleDriver)
	require.NoError(t, err)
	require.NoError(t, f.app.StartShift())

	require.True(t, f.push.Fail("d2", &tracking.PositionError{Code: tracking.CodePositionUnavailable}))

	st, err := f.app.Shift()
	require.NoError(t, err)
	assert.False(t, st.Tracking)
	require.NotNil(t, st.Fault)
	assert.Equal(t, tracking.CodePositionUnavailable, st.Fault.Code)
	assert.Contains(t, st.FaultMessage, "position unavailable")

	// a manual restart clears the fault
	require.NoError(t, f.app.StartShift())
	st, _ = f.app.Shift()
	assert.Nil(t, st.Fault)
	assert.True(t, st.Tracking)
}

func TestApp_ShiftEndsWhenBusIsTakenAway(t *testing.T) {
	tests := []struct {
		name   string
		change func(store *fleet.Store, b1 models.Bus)
	}{
		{"unassigned", func(store *fleet.Store, b1 models.Bus) {
			b1.DriverID = ""
			b1.Status = models.StatusParked
			require.True(t, store.UpdateBus(b1))
		}},
		{"reassigned", func(store *fleet.Store, b1 models.Bus) {
			b1.DriverID = "d3"
			require.True(t, store.UpdateBus(b1))
		}},
		{"deleted", func(store *fleet.Store, _ models.Bus) {
			require.True(t, store.DeleteBus("b1", fleet.Confirmed))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.app.Sessions.Login("ahmed@busflow.dz", models.RoleDriver)
			require.NoError(t, err)
			require.NoError(t, f.app.StartShift())

			b1, _ := f.app.Store.Snapshot().Bus("b1")
			tt.change(f.app.Store, b1)
			before, _ := f.app.Store.Snapshot().Bus("b1")

			// a sample racing the edit never lands on the bus
			f.push.Push("d1", tracking.Position{Latitude: 10, Longitude: 10})
			if after, ok := f.app.Store.Snapshot().Bus("b1"); ok {
				assert.NotEqual(t, 10.0, after.CurrentLocation.Lat)
				if before.DriverID == "" {
					assert.Equal(t, models.StatusParked, after.Status)
				}
			}

			require.Eventually(t, func() bool {
				st, err := f.app.Shift()
				return err == nil && !st.Tracking
			}, time.Second, 2*time.Millisecond)
			assert.False(t, f.push.Watching("d1"))
			assert.False(t, f.push.Push("d1", tracking.Position{Latitude: 10, Longitude: 10}))
		})
	}
}

func TestApp_ReassignedBusGoesBackToSimulator(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.Sessions.Login("ahmed@busflow.dz", models.RoleDriver)
	require.NoError(t, err)
	require.NoError(t, f.app.StartShift())

	b1, _ := f.app.Store.Snapshot().Bus("b1")
	b1.DriverID = "d3"
	require.True(t, f.app.Store.UpdateBus(b1))

	require.Eventually(t, func() bool {
		st, _ := f.app.Shift()
		return !st.Tracking
	}, time.Second, 2*time.Millisecond)
	f.movesEventually(t, "b1")
}

func TestApp_ViewAndSelection(t *testing.T) {
	f := newFixture(t)
	_, err := f.app.View()
	assert.ErrorIs(t, err, views.ErrNoSession)

	_, err = f.app.Sessions.Login("", models.RolePassenger)
	require.NoError(t, err)
	f.app.Selection.Select("b2")

	v, err := f.app.View()
	require.NoError(t, err)
	require.NotNil(t, v.Passenger)
	assert.Equal(t, 2, v.Passenger.Count)
	require.NotNil(t, v.Passenger.SelectedDriver)
	assert.Equal(t, "Sofiane Mansour", v.Passenger.SelectedDriver.Name)

	markers, err := f.app.Markers()
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.True(t, markers[1].Selected)

	f.app.Sessions.Logout()
	assert.Empty(t, f.app.Selection.ID(), "selection belongs to the session")
}

func TestExcluder(t *testing.T) {
	store := fleet.NewStore()
	store.Seed([]models.Driver{{ID: "d1"}}, []models.Bus{{ID: "b1", Status: models.StatusOnRoad, DriverID: "d1"}})
	push := tracking.NewPushSource()
	locate := func(string) (string, bool) { return "b1", true }
	rep := tracking.NewReporter("d1", store, push, locate, tracking.WithWatchOptions(tracking.WatchOptions{}))

	driver := models.User{ID: "d1", Role: models.RoleDriver}
	own := models.Bus{ID: "b1", DriverID: "d1"}
	other := models.Bus{ID: "b2", DriverID: "d2"}

	assert.False(t, Excluder(driver, rep)(own), "idle shift")
	require.NoError(t, rep.Start(context.Background()))
	assert.True(t, Excluder(driver, rep)(own))
	assert.False(t, Excluder(driver, rep)(other))
	assert.False(t, Excluder(models.User{ID: "d1", Role: models.RoleAdmin}, rep)(own))
	assert.False(t, Excluder(driver, nil)(own))

	rep.Stop()
	assert.False(t, Excluder(driver, rep)(own))
}
