// Package app ties the session to the processes that move the fleet: the
// motion simulator runs while any session exists, and a driver session owns
// the reporter for that driver's shift.
package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
	"github.com/ukydev/busflow/internal/session"
	"github.com/ukydev/busflow/internal/simulator"
	"github.com/ukydev/busflow/internal/tracking"
	"github.com/ukydev/busflow/internal/views"
)

var ErrNotDriver = errors.New("current session is not a driver")

// Config holds the tunables of the moving parts.
type Config struct {
	Simulator simulator.Config
	Watch     tracking.WatchOptions
}

// DefaultConfig returns the reference deployment settings.
func DefaultConfig() Config {
	return Config{
		Simulator: simulator.DefaultConfig(),
		Watch:     tracking.DefaultWatchOptions(),
	}
}

// ShiftStatus describes the driver's shift.
type ShiftStatus struct {
	Tracking     bool                    `json:"tracking"`
	BusID        string                  `json:"bus_id,omitempty"`
	Samples      int                     `json:"samples"`
	Fault        *tracking.PositionError `json:"fault,omitempty"`
	FaultMessage string                  `json:"fault_message,omitempty"`
}

// App is one running BusFlow instance.
type App struct {
	Store     *fleet.Store
	Sessions  *session.Manager
	Selection *views.Selection

	source  tracking.Source
	cfg     Config
	log     logrus.FieldLogger
	simOpts []simulator.Option

	// ctx bounds the simulator and device subscriptions.
	ctx context.Context

	// mu guards the lifecycle of sim and reporter.
	mu       sync.Mutex
	sim      *simulator.Simulator
	reporter *tracking.Reporter

	unsubscribe func()
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *App) { a.log = l }
}

// WithSimulatorOptions passes options to every simulator the App builds.
func WithSimulatorOptions(opts ...simulator.Option) Option {
	return func(a *App) { a.simOpts = append(a.simOpts, opts...) }
}

// New wires the App to the session manager. Processes are started on the
// next login.
func New(ctx context.Context, store *fleet.Store, sessions *session.Manager, source tracking.Source, cfg Config, opts ...Option) *App {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	a := &App{
		Store:     store,
		Sessions:  sessions,
		Selection: &views.Selection{},
		source:    source,
		cfg:       cfg,
		log:       discard,
		ctx:       ctx,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.Selection.Follow(store)
	a.unsubscribe = store.Subscribe(a.fleetChanged)
	sessions.OnChange(a.sessionChanged)
	return a
}

// sessionChanged tears down the previous session's processes before
// building fresh ones for next.
func (a *App) sessionChanged(_, next *models.User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reporter != nil {
		a.reporter.Stop()
		a.reporter = nil
	}
	if a.sim != nil {
		a.sim.Stop()
		a.sim = nil
	}
	a.Selection.Clear()
	if next == nil {
		return
	}

	user := *next
	var rep *tracking.Reporter
	if user.Role == models.RoleDriver {
		rep = tracking.NewReporter(user.ID, a.Store, a.source, a.locate,
			tracking.WithWatchOptions(a.cfg.Watch),
			tracking.WithFaultHandler(a.recordFault),
			tracking.WithLogger(a.log),
		)
	}
	opts := append([]simulator.Option{simulator.WithLogger(a.log)}, a.simOpts...)
	a.sim = simulator.New(a.Store, Excluder(user, rep), a.cfg.Simulator, opts...)
	a.reporter = rep
	a.sim.Start(a.ctx)
}

// Excluder returns the simulator's exclusion predicate for a session: a bus
// is left alone while it belongs to the session's driver and that driver's
// reporter is tracking it.
func Excluder(user models.User, rep *tracking.Reporter) simulator.ExcludeFunc {
	return func(b models.Bus) bool {
		if user.Role != models.RoleDriver || rep == nil || b.DriverID != user.ID {
			return false
		}
		busID, ok := rep.TrackedBus()
		return ok && busID == b.ID
	}
}

func (a *App) locate(driverID string) (string, bool) {
	b, ok := a.Store.Snapshot().BusForDriver(driverID)
	return b.ID, ok
}

func (a *App) recordFault(driverID string, err *tracking.PositionError) {
	a.log.WithFields(logrus.Fields{"driver_id": driverID, "code": err.Code}).Warn("Shift ended by location error")
}

// fleetChanged runs under the store lock, so the assignment check of the
// running shift happens on its own goroutine.
func (a *App) fleetChanged(ev fleet.Event) {
	if ev.Kind != fleet.EventBusUpdated && ev.Kind != fleet.EventBusDeleted {
		return
	}
	go a.revalidateShift()
}

func (a *App) revalidateShift() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reporter != nil {
		a.reporter.Revalidate()
	}
}

// StartShift starts tracking the current driver's device.
func (a *App) StartShift() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reporter == nil {
		return ErrNotDriver
	}
	return a.reporter.Start(a.ctx)
}

// StopShift stops tracking. Stopping an idle shift is not an error.
func (a *App) StopShift() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reporter == nil {
		return ErrNotDriver
	}
	a.reporter.Stop()
	return nil
}

// Shift reports the current driver's shift.
func (a *App) Shift() (ShiftStatus, error) {
	a.mu.Lock()
	rep := a.reporter
	a.mu.Unlock()
	if rep == nil {
		return ShiftStatus{}, ErrNotDriver
	}
	st := ShiftStatus{Samples: rep.Samples(), Fault: rep.LastFault()}
	st.BusID, st.Tracking = rep.TrackedBus()
	if st.Fault != nil {
		st.FaultMessage = st.Fault.UserMessage()
	}
	return st, nil
}

// SimulatorRunning reports whether the motion simulator is active.
func (a *App) SimulatorRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sim != nil && a.sim.Running()
}

// View derives the current session's projection.
func (a *App) View() (views.View, error) {
	user, ok := a.Sessions.Current()
	if !ok {
		return views.View{}, views.ErrNoSession
	}
	return views.Derive(a.Store.Snapshot(), &user, a.Selection.ID())
}

// Markers returns the map markers visible to the current session.
func (a *App) Markers() ([]views.Marker, error) {
	user, ok := a.Sessions.Current()
	if !ok {
		return nil, views.ErrNoSession
	}
	buses, err := views.Visible(a.Store.Snapshot(), &user)
	if err != nil {
		return nil, err
	}
	return views.Markers(buses, a.Selection.ID()), nil
}

// Close stops every process.
func (a *App) Close() {
	a.unsubscribe()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reporter != nil {
		a.reporter.Stop()
	}
	if a.sim != nil {
		a.sim.Stop()
		a.sim = nil
	}
}
