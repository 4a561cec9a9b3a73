package tracking

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/models"
)

// ErrNoAssignedBus is returned when a shift is started by a driver without a bus.
var ErrNoAssignedBus = errors.New("no bus assigned to driver")

// State of a Reporter.
type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

// LocationSink receives the accepted samples. It rejects a sample, and
// reports false, once the bus is gone or no longer assigned to driverID.
type LocationSink interface {
	UpdateDriverBusLocation(driverID, busID string, loc models.Location, speed float64) bool
}

// BusLocator resolves the bus currently assigned to the driver.
type BusLocator func(driverID string) (busID string, ok bool)

// FaultHandler is notified after a fault has returned the reporter to Idle.
type FaultHandler func(driverID string, err *PositionError)

// Fallback speed, in km/h, used when the device does not report one.
const (
	fallbackSpeed  = 45.0
	fallbackSpread = 5.0
)

// Reporter feeds one driver's device positions into the fleet while the
// driver's shift is active.
type Reporter struct {
	driverID string
	sink     LocationSink
	source   Source
	locate   BusLocator
	opts     WatchOptions
	onFault  FaultHandler
	now      func() time.Time
	log      logrus.FieldLogger

	rndMu sync.Mutex
	rnd   *rand.Rand

	// tracked is readable without mu; the simulator consults it while the
	// fleet store is locked.
	tracked atomic.Pointer[string]

	mu        sync.Mutex
	state     State
	busID     string
	gen       uint64
	sub       Subscription
	watchdog  *time.Timer
	samples   int
	lastFault *PositionError
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithWatchOptions overrides DefaultWatchOptions.
func WithWatchOptions(o WatchOptions) Option {
	return func(r *Reporter) { r.opts = o }
}

// WithFaultHandler registers the fault notification.
func WithFaultHandler(h FaultHandler) Option {
	return func(r *Reporter) { r.onFault = h }
}

// WithClock sets the clock used for samples without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithRand sets the random source of the fallback speed.
func WithRand(rnd *rand.Rand) Option {
	return func(r *Reporter) { r.rnd = rnd }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reporter) { r.log = l }
}

// NewReporter creates an idle reporter for driverID.
func NewReporter(driverID string, sink LocationSink, source Source, locate BusLocator, opts ...Option) *Reporter {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	r := &Reporter{
		driverID: driverID,
		sink:     sink,
		source:   source,
		locate:   locate,
		opts:     DefaultWatchOptions(),
		now:      time.Now,
		log:      discard,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("driver_id", driverID)
	return r
}

// Start enters Tracking for the driver's assigned bus. It is a no-op when
// already tracking. Without an assigned bus it returns ErrNoAssignedBus and
// stays Idle. A source that refuses the subscription is reported as a fault.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Tracking {
		r.mu.Unlock()
		return nil
	}
	r.lastFault = nil
	busID, ok := r.locate(r.driverID)
	if !ok {
		r.mu.Unlock()
		return ErrNoAssignedBus
	}
	r.gen++
	gen := r.gen
	r.state = Tracking
	r.busID = busID
	r.samples = 0
	r.tracked.Store(&busID)
	r.armWatchdogLocked(gen)
	r.mu.Unlock()

	r.log.WithField("bus_id", busID).Info("Shift started, tracking device position")

	sub, err := r.source.Watch(ctx, r.driverID, r.opts, Handler{
		OnPosition: func(p Position) { r.handleSample(gen, p) },
		OnError:    func(e *PositionError) { r.handleFault(gen, e) },
	})
	if err != nil {
		perr := Classify(err)
		r.handleFault(gen, perr)
		return perr
	}

	r.mu.Lock()
	if r.gen != gen {
		// stopped or faulted while Watch was running
		r.mu.Unlock()
		sub.Cancel()
		return nil
	}
	r.sub = sub
	r.mu.Unlock()
	return nil
}

// Stop leaves Tracking and cancels the subscription. When Stop returns, no
// sample can reach the sink any more.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.state == Idle {
		r.mu.Unlock()
		return
	}
	sub := r.stopLocked()
	r.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
	r.log.Info("Shift stopped")
}

// State returns the current state.
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// TrackedBus returns the bus being tracked. It never blocks.
func (r *Reporter) TrackedBus() (string, bool) {
	p := r.tracked.Load()
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// Samples returns the number of samples accepted since the last Start.
func (r *Reporter) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// LastFault returns the fault that ended the last shift, if any.
func (r *Reporter) LastFault() *PositionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFault
}

func (r *Reporter) handleSample(gen uint64, p Position) {
	r.mu.Lock()
	if r.gen != gen || r.state != Tracking {
		r.mu.Unlock()
		return
	}
	if !p.Valid() {
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{"lat": p.Latitude, "lng": p.Longitude}).Warn("Dropping invalid position sample")
		return
	}
	ts := p.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	speed := r.speedFor(p)
	loc := models.Location{Lat: p.Latitude, Lng: p.Longitude, Timestamp: ts}
	busID := r.busID
	if !r.sink.UpdateDriverBusLocation(r.driverID, busID, loc, speed) {
		sub := r.stopLocked()
		r.mu.Unlock()
		r.release(sub, busID)
		return
	}
	r.samples++
	r.armWatchdogLocked(gen)
	r.mu.Unlock()
}

// Revalidate ends the shift when the tracked bus was deleted or is no longer
// assigned to the driver. It must not be called with the fleet store locked.
func (r *Reporter) Revalidate() {
	r.mu.Lock()
	if r.state != Tracking {
		r.mu.Unlock()
		return
	}
	busID, ok := r.locate(r.driverID)
	if ok && busID == r.busID {
		r.mu.Unlock()
		return
	}
	tracked := r.busID
	sub := r.stopLocked()
	r.mu.Unlock()
	r.release(sub, tracked)
}

func (r *Reporter) release(sub Subscription, busID string) {
	if sub != nil {
		sub.Cancel()
	}
	r.log.WithField("bus_id", busID).Warn("Bus no longer assigned to driver, shift stopped")
}

func (r *Reporter) handleFault(gen uint64, perr *PositionError) {
	r.mu.Lock()
	if r.gen != gen || r.state != Tracking {
		r.mu.Unlock()
		return
	}
	sub := r.stopLocked()
	r.lastFault = perr
	r.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}

	r.log.WithFields(logrus.Fields{"code": perr.Code, "message": perr.Message}).Warn("Position stream failed, shift stopped")
	if r.onFault != nil {
		r.onFault(r.driverID, perr)
	}
}

// stopLocked moves to Idle and returns the subscription to cancel once mu
// is released.
func (r *Reporter) stopLocked() Subscription {
	r.gen++
	r.state = Idle
	r.busID = ""
	r.tracked.Store(nil)
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	sub := r.sub
	r.sub = nil
	return sub
}

func (r *Reporter) armWatchdogLocked(gen uint64) {
	if r.opts.Timeout <= 0 {
		return
	}
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	timeout := r.opts.Timeout
	r.watchdog = time.AfterFunc(timeout, func() {
		r.handleFault(gen, &PositionError{Code: CodeTimeout, Message: "no position received within " + timeout.String()})
	})
}

// speedFor converts the device speed to whole km/h, synthesizing one in
// 45±2.5 km/h when the device gave none.
func (r *Reporter) speedFor(p Position) float64 {
	if p.Speed != nil && *p.Speed >= 0 && !math.IsNaN(*p.Speed) {
		return math.Round(*p.Speed * 3.6)
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return math.Round(fallbackSpeed + (r.rnd.Float64()-0.5)*fallbackSpread)
}
