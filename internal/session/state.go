package session

import (
	"sync"
	"time"
)

// Status is a read-only view of the session state.
type Status struct {
	Active    bool
	FlightID  int64
	Name      string
	Addr      string
	StartedAt time.Time
}

// State holds the active flight, if any. Only the Manager mutates it; the
// pipeline reads it through CurrentFlight.
type State struct {
	mu      sync.RWMutex
	current Status
}

func NewState() *State {
	return &State{}
}

// CurrentFlight returns the active flight id and whether a flight is active.
func (s *State) CurrentFlight() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current.FlightID, s.current.Active
}

func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

func (s *State) activate(id int64, name, addr string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Status{
		Active:    true,
		FlightID:  id,
		Name:      name,
		Addr:      addr,
		StartedAt: startedAt,
	}
}

func (s *State) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = Status{}
}
