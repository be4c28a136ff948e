package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/telemetry"
	"codeberg.org/mutker/flightctl/internal/transport"
	"github.com/dustin/go-humanize"
)

// DefaultOpenTimeout bounds how long Start waits for the receiver to open.
const DefaultOpenTimeout = 4 * time.Second

// Store is the part of the persistence gateway that owns flight rows.
type Store interface {
	CreateFlight(ctx context.Context, name string, startedAt time.Time) (int64, error)
	CompleteFlight(ctx context.Context, id int64, endedAt time.Time) error
}

// LineHandler resolves a single synthetic line for a flight.
type LineHandler interface {
	HandleLine(ctx context.Context, flightID int64, line string) error
}

// Announcement is broadcast to every subscriber on a lifecycle transition.
type Announcement struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

type Config struct {
	Opener      transport.Opener
	OpenTimeout time.Duration
	Store       Store
	Publisher   fanout.Publisher
	// Sink receives every raw receiver line tagged with the flight it
	// arrived during, normally Aggregator.Push.
	Sink  func(flightID int64, line string)
	Lines LineHandler
}

// Manager owns the lifecycle of the single active flight and its receiver
// link. Lifecycle calls are serialized; at most one flight is active.
type Manager struct {
	mu    sync.Mutex
	state *State
	link  *transport.Link

	opener      transport.Opener
	openTimeout time.Duration
	store       Store
	pub         fanout.Publisher
	sink        func(int64, string)
	lines       LineHandler

	now    func() time.Time
	logger logger.Logger
}

func NewManager(state *State, cfg Config, log logger.Logger) *Manager {
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	return &Manager{
		state:       state,
		opener:      cfg.Opener,
		openTimeout: timeout,
		store:       cfg.Store,
		pub:         cfg.Publisher,
		sink:        cfg.Sink,
		lines:       cfg.Lines,
		now:         time.Now,
		logger:      log,
	}
}

// Start opens the receiver at addr and, once it is open, records a new
// flight and begins streaming lines into the pipeline. No flight row is
// written when the receiver cannot be opened.
func (m *Manager) Start(ctx context.Context, name, addr string, speed int) (*telemetry.Flight, error) {
	errFactory := errors.New()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "Flight name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.state.CurrentFlight(); ok {
		return nil, errFactory.WithData(errors.ErrSessionActive, id)
	}

	link, err := transport.Open(ctx, m.opener, addr, speed, m.openTimeout, m.logger)
	if err != nil {
		m.logger.Error().Err(err).Str("addr", addr).Int("speed", speed).Msg("Failed to open receiver")
		return nil, err
	}

	startedAt := m.now()
	id, err := m.store.CreateFlight(ctx, name, startedAt)
	if err != nil {
		if cerr := link.Close(); cerr != nil {
			m.logger.Warn().Err(cerr).Msg("Failed to close receiver after aborted start")
		}
		m.logger.Error().Err(err).Str("name", name).Msg("Failed to create flight")
		return nil, errFactory.Wrap(errors.ErrPersistence, err)
	}

	m.state.activate(id, name, addr, startedAt)
	m.link = link
	link.Start(func(line string) { m.sink(id, line) })
	go m.watch(link)

	m.pub.Broadcast(fanout.EventFlightStarted, Announcement{ID: id, Name: name})

	m.logger.Info().
		Int64("flight_id", id).
		Str("name", name).
		Str("addr", addr).
		Int("speed", speed).
		Msg("Flight started")

	return &telemetry.Flight{
		ID:        id,
		Name:      name,
		StartedAt: startedAt,
		Status:    telemetry.StatusActive,
	}, nil
}

// Stop ends the active flight and returns its id. The in-memory state is
// cleared even when the flight row cannot be updated.
func (m *Manager) Stop(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.state.CurrentFlight(); !ok {
		return 0, errors.New().New(errors.ErrNoActiveSession)
	}

	return m.stopLocked(ctx, "requested"), nil
}

func (m *Manager) stopLocked(ctx context.Context, reason string) int64 {
	current := m.state.Status()

	if m.link != nil {
		if err := m.link.Close(); err != nil {
			m.logger.Warn().Err(err).Int64("flight_id", current.FlightID).Msg("Failed to close receiver")
		}
		m.link = nil
	}

	endedAt := m.now()
	if err := m.store.CompleteFlight(ctx, current.FlightID, endedAt); err != nil {
		m.logger.Error().Err(err).Int64("flight_id", current.FlightID).Msg("Failed to mark flight completed")
	}

	m.state.reset()
	m.pub.Broadcast(fanout.EventFlightStopped, Announcement{ID: current.FlightID})

	m.logger.Info().
		Int64("flight_id", current.FlightID).
		Str("name", current.Name).
		Str("reason", reason).
		Str("duration", strings.TrimSpace(humanize.RelTime(current.StartedAt, endedAt, "", ""))).
		Msg("Flight stopped")

	return current.FlightID
}

// watch stops the flight when its link fails. A link closed by Stop exits
// without an error and is ignored.
func (m *Manager) watch(link *transport.Link) {
	<-link.Done()

	err := link.Err()
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.link != link {
		return
	}

	m.logger.Error().Err(err).Str("addr", link.Addr()).Msg("Receiver failed during flight, stopping")
	m.stopLocked(context.Background(), "transport error")
}

// InjectTestLine feeds one synthetic line to the active flight, bypassing
// the receiver and packet aggregation.
func (m *Manager) InjectTestLine(ctx context.Context, flightID int64, line string) error {
	errFactory := errors.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.state.CurrentFlight()
	if !ok {
		return errFactory.New(errors.ErrNoActiveSession)
	}
	if id != flightID {
		return errFactory.WithData(errors.ErrSessionMismatch, struct {
			Requested int64
			Active    int64
		}{
			Requested: flightID,
			Active:    id,
		})
	}

	m.logger.Debug().Int64("flight_id", id).Str("line", line).Msg("Injecting test line")

	return m.lines.HandleLine(ctx, id, line)
}

// Shutdown stops the active flight, if any.
func (m *Manager) Shutdown(ctx context.Context) {
	if _, err := m.Stop(ctx); err != nil && !errors.HasCode(err, errors.ErrNoActiveSession) {
		m.logger.Error().Err(err).Msg("Failed to stop flight on shutdown")
	}
}

func (m *Manager) IsActive() bool {
	_, ok := m.state.CurrentFlight()
	return ok
}

// CurrentID returns the active flight id, or false when idle.
func (m *Manager) CurrentID() (int64, bool) {
	return m.state.CurrentFlight()
}

func (m *Manager) Status() Status {
	return m.state.Status()
}
