// Package session holds the current user of a running BusFlow instance.
// The role is trusted input: logging in only selects which projection runs.
package session

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/models"
)

var (
	ErrInvalidRole   = errors.New("invalid role")
	ErrEmailRequired = errors.New("email is required")
)

// DefaultPassengerEmail is used when a passenger continues without an email.
const DefaultPassengerEmail = "passenger@busflow.dz"

// Defaults for users without a driver record.
const (
	DefaultAdminID    = "a1"
	DefaultAdminName  = "General Manager"
	DefaultDriverID   = "d1"
	DefaultDriverName = "Driver"
	PassengerName     = "Guest (Passenger)"
)

// Directory resolves known drivers by email.
type Directory interface {
	Snapshot() *fleet.Snapshot
}

// ChangeFunc observes session transitions. next is nil after a logout.
type ChangeFunc func(prev, next *models.User)

// Manager is the process-wide session context.
type Manager struct {
	dir Directory
	now func() time.Time
	log logrus.FieldLogger

	// changeMu serializes transitions together with their notifications.
	changeMu sync.Mutex

	mu        sync.Mutex
	user      *models.User
	listeners []ChangeFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for synthetic passenger ids.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager with no active session.
func NewManager(dir Directory, opts ...Option) *Manager {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	m := &Manager{dir: dir, now: time.Now, log: discard}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login replaces the session. A known driver email inherits that driver's
// id and name; any other email gets the role's defaults.
func (m *Manager) Login(email string, role models.Role) (models.User, error) {
	if !models.IsValidRole(role) {
		return models.User{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		if role != models.RolePassenger {
			return models.User{}, ErrEmailRequired
		}
		email = DefaultPassengerEmail
	}

	// read the fleet before taking any session lock
	var known *models.Driver
	if d, ok := m.dir.Snapshot().DriverByEmail(email); ok {
		known = &d
	}

	user := models.User{Email: email, Role: role}
	switch {
	case known != nil:
		user.ID, user.Name = known.ID, known.Name
	case role == models.RoleAdmin:
		user.ID, user.Name = DefaultAdminID, DefaultAdminName
	case role == models.RoleDriver:
		user.ID, user.Name = DefaultDriverID, DefaultDriverName
	default:
		user.ID = fmt.Sprintf("p%d", m.now().UnixMilli())
		user.Name = PassengerName
	}

	m.transition(&user)
	m.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("Session started")
	return user, nil
}

// Logout clears the session unconditionally.
func (m *Manager) Logout() {
	m.transition(nil)
	m.log.Info("Session ended")
}

// Current returns the session user.
func (m *Manager) Current() (models.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return models.User{}, false
	}
	return *m.user, true
}

// OnChange registers fn. Listeners run after the change is visible through
// Current, in registration order.
func (m *Manager) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) transition(next *models.User) {
	m.changeMu.Lock()
	defer m.changeMu.Unlock()

	m.mu.Lock()
	prev := m.user
	m.user = next
	listeners := append([]ChangeFunc(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(copyUser(prev), copyUser(next))
	}
}

func copyUser(u *models.User) *models.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
