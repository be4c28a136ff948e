package packet

import (
	"context"
	stderrors "errors"
	"time"

	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/telemetry"
)

// Store is the subset of the persistence gateway the resolver writes to.
type Store interface {
	InsertTelemetry(ctx context.Context, rec *telemetry.Record) (int64, error)
	InsertEvent(ctx context.Context, ev *telemetry.Event) (int64, error)
}

// SessionSource reports the active flight, if any.
type SessionSource interface {
	CurrentFlight() (int64, bool)
}

// Outcome is what a packet resolved to. Telemetry and Events are never both
// set.
type Outcome struct {
	Telemetry telemetry.Fragment
	Events    []telemetry.Event
}

// Resolve runs the parse stages over one packet:
//  1. the first line that parses as CSV is the whole payload;
//  2. otherwise labelled fragments from every line are merged, later lines
//     winning on collision;
//  3. otherwise every line that classifies becomes an event.
func Resolve(lines []string) Outcome {
	for _, line := range lines {
		if frag, ok := telemetry.ParseCSV(line); ok {
			return Outcome{Telemetry: frag}
		}
	}

	merged := telemetry.Fragment{}
	found := false
	for _, line := range lines {
		if frag, ok := telemetry.Extract(line); ok {
			merged.Merge(frag)
			found = true
		}
	}
	if found {
		return Outcome{Telemetry: merged}
	}

	var events []telemetry.Event
	for _, line := range lines {
		if ev, ok := telemetry.Classify(line); ok {
			events = append(events, ev)
		}
	}

	return Outcome{Events: events}
}

// Resolver persists and fans out resolved packets under the active flight.
type Resolver struct {
	store    Store
	pub      fanout.Publisher
	sessions SessionSource
	now      func() time.Time
	logger   logger.Logger
}

func NewResolver(store Store, pub fanout.Publisher, sessions SessionSource, log logger.Logger) *Resolver {
	return &Resolver{
		store:    store,
		pub:      pub,
		sessions: sessions,
		now:      time.Now,
		logger:   log,
	}
}

// HandlePacket resolves one packet received during flightID. The packet is
// dropped unless flightID is still the active flight, so a burst that closes
// after its flight stopped never lands on the next one. Write failures do
// not stop the fan-out; they are returned joined.
func (r *Resolver) HandlePacket(ctx context.Context, flightID int64, lines []string) error {
	current, ok := r.sessions.CurrentFlight()
	if !ok {
		r.logger.Debug().Int("lines", len(lines)).Msg("Packet received but no active flight, skipping")
		return nil
	}
	if current != flightID {
		r.logger.Debug().
			Int64("flight_id", flightID).
			Int64("active_flight_id", current).
			Int("lines", len(lines)).
			Msg("Packet belongs to a stopped flight, skipping")
		return nil
	}

	out := Resolve(lines)
	if out.Telemetry != nil {
		return r.emitTelemetry(ctx, flightID, out.Telemetry)
	}

	var errs []error
	for i := range out.Events {
		if err := r.emitEvent(ctx, flightID, &out.Events[i]); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

// HandleLine resolves a single line outside of packet aggregation. A line
// that classifies as an event is stored as such and, in addition, any
// values mined from its message are stored as a telemetry row; an event
// about a known sensor with no values yields a zero row for that sensor.
func (r *Resolver) HandleLine(ctx context.Context, flightID int64, line string) error {
	if frag, ok := telemetry.ParseCSV(line); ok {
		return r.emitTelemetry(ctx, flightID, frag)
	}

	ev, ok := telemetry.Classify(line)
	if !ok {
		r.logger.Debug().Str("line", line).Msg("Line matched no pattern")
		return nil
	}

	var errs []error
	if err := r.emitEvent(ctx, flightID, &ev); err != nil {
		errs = append(errs, err)
	}

	frag, ok := telemetry.Extract(ev.Message)
	if !ok && ev.Source.IsSensor() {
		frag, ok = telemetry.Fragment{}, true
	}
	if ok {
		if err := r.emitTelemetry(ctx, flightID, frag); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

func (r *Resolver) emitTelemetry(ctx context.Context, flightID int64, frag telemetry.Fragment) error {
	rec := telemetry.Record{
		FlightID:  flightID,
		Timestamp: r.now().UnixMilli(),
	}
	rec.Apply(frag)

	id, err := r.store.InsertTelemetry(ctx, &rec)
	if err != nil {
		r.logger.Error().Err(err).Int64("flight_id", flightID).Msg("Failed inserting telemetry")
	} else {
		rec.ID = id
	}

	r.pub.Publish(flightID, fanout.EventTelemetry, rec.Update())

	r.logger.Debug().
		Int64("flight_id", flightID).
		Int64("id", rec.ID).
		Float64("altitude", rec.Altitude).
		Msg("Telemetry stored and published")

	return err
}

func (r *Resolver) emitEvent(ctx context.Context, flightID int64, ev *telemetry.Event) error {
	ev.FlightID = flightID
	ev.Timestamp = r.now()

	id, err := r.store.InsertEvent(ctx, ev)
	if err != nil {
		r.logger.Error().Err(err).Int64("flight_id", flightID).Msg("Failed inserting flight event")
	} else {
		ev.ID = id
	}

	r.pub.Publish(flightID, fanout.EventFlight, ev.Notice())

	r.logger.Info().
		Int64("flight_id", flightID).
		Str("type", string(ev.Type)).
		Str("source", string(ev.Source)).
		Str("message", ev.Message).
		Msg("Flight event")

	return err
}
