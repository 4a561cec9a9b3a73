package views

import (
	"sync"

	"github.com/ukydev/busflow/internal/fleet"
)

// Selection is the bus highlighted on a map or list. It is UI state and
// never touches a bus's status.
type Selection struct {
	mu sync.Mutex
	id string
}

// Select highlights busID.
func (s *Selection) Select(busID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = busID
}

// Clear removes the highlight.
func (s *Selection) Clear() {
	s.Select("")
}

// ID returns the selected bus id, or "" when nothing is selected.
func (s *Selection) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Follow clears the selection when the store deletes the selected bus.
func (s *Selection) Follow(store interface {
	Subscribe(fleet.Listener) func()
}) (cancel func()) {
	return store.Subscribe(func(ev fleet.Event) {
		if ev.Kind != fleet.EventBusDeleted {
			return
		}
		s.mu.Lock()
		if s.id == ev.BusID {
			s.id = ""
		}
		s.mu.Unlock()
	})
}
