package simulator

import (
	"context"
	"io"
	"iter"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
)

// Mover applies one atomic step to the whole fleet.
type Mover interface {
	AdvanceBuses(step func(models.Bus) (fleet.Move, bool)) int
}

// ExcludeFunc reports whether a bus is positioned by someone else this tick.
// It is called for every ON_ROAD bus on every tick.
type ExcludeFunc func(models.Bus) bool

// Config controls the simulated motion.
type Config struct {
	Interval  time.Duration
	MaxOffset float64 // degrees, applied independently to lat and lng
	MinSpeed  float64 // km/h, inclusive
	MaxSpeed  float64 // km/h, exclusive
}

// DefaultConfig matches the reference deployment: a tick every 5s, offsets of
// up to ±0.00025° and speeds in [30, 50) km/h.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Second,
		MaxOffset: 0.00025,
		MinSpeed:  30,
		MaxSpeed:  50,
	}
}

// Simulator periodically perturbs the position of every ON_ROAD bus that is
// not excluded.
type Simulator struct {
	fleet   Mover
	exclude ExcludeFunc
	cfg     Config
	log     logrus.FieldLogger

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand sets the random source, for reproducible runs.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) { s.rnd = r }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulator) { s.log = l }
}

// New creates a stopped simulator.
func New(m Mover, exclude ExcludeFunc, cfg Config, opts ...Option) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	s := &Simulator{
		fleet:   m,
		exclude: exclude,
		cfg:     cfg,
		log:     discard,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. It is a no-op if the loop is already running.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go s.run(ctx, done)
	s.log.WithField("interval", s.cfg.Interval).Info("Motion simulator started")
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Simulator) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Info("Motion simulator stopped")
}

// Running reports whether the tick loop is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Tick performs one simulation step and returns the number of buses moved.
func (s *Simulator) Tick() int {
	return s.fleet.AdvanceBuses(s.step)
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			moved := s.Tick()
			s.log.WithField("moved", moved).Debug("Simulation tick")
		}
	}
}

func (s *Simulator) step(b models.Bus) (fleet.Move, bool) {
	if b.Status != models.StatusOnRoad {
		return fleet.Move{}, false
	}
	if s.exclude != nil && s.exclude(b) {
		return fleet.Move{}, false
	}
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return Perturb(b.CurrentLocation, s.rnd, s.cfg), true
}

// Perturb returns the next simulated position after loc. It depends only on
// loc, never on earlier history.
func Perturb(loc models.Location, r *rand.Rand, cfg Config) fleet.Move {
	dLat := (r.Float64()*2 - 1) * cfg.MaxOffset
	dLng := (r.Float64()*2 - 1) * cfg.MaxOffset
	span := cfg.MaxSpeed - cfg.MinSpeed
	speed := cfg.MinSpeed
	if span > 0 {
		speed += math.Floor(r.Float64() * span)
	}
	return fleet.Move{Lat: loc.Lat + dLat, Lng: loc.Lng + dLng, Speed: speed}
}

// Walk is the lazy, infinite sequence of positions obtained by repeatedly
// perturbing start. Every range over it starts again from start.
func Walk(start models.Location, r *rand.Rand, cfg Config) iter.Seq[fleet.Move] {
	return func(yield func(fleet.Move) bool) {
		loc := start
		for {
			m := Perturb(loc, r, cfg)
			if !yield(m) {
				return
			}
			loc = models.Location{Lat: m.Lat, Lng: m.Lng}
		}
	}
}
