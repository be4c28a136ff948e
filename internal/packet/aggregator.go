package packet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/flightctl/internal/logger"
)

const (
	// DefaultQuietPeriod is the silence after which buffered lines form a packet.
	DefaultQuietPeriod = 150 * time.Millisecond

	lineQueue   = 256
	packetQueue = 16
)

// HandlerFunc resolves one packet received during flightID. Lines are in
// arrival order.
type HandlerFunc func(ctx context.Context, flightID int64, lines []string) error

type taggedLine struct {
	flightID int64
	text     string
}

type bufferedPacket struct {
	flightID int64
	lines    []string
}

// Aggregator groups bursts of receiver lines into packets. A packet closes
// when no line has arrived for the quiet period; every new line restarts
// the period. Packets are handed to the handler one at a time, in the order
// they closed. A packet never spans two flights: a line tagged with a
// different flight closes the open packet first.
type Aggregator struct {
	quiet   time.Duration
	handle  HandlerFunc
	lines   chan taggedLine
	packets chan bufferedPacket
	stopped chan struct{}
	running sync.Once
	logger  logger.Logger
}

func NewAggregator(quiet time.Duration, handle HandlerFunc, log logger.Logger) *Aggregator {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}

	return &Aggregator{
		quiet:   quiet,
		handle:  handle,
		lines:   make(chan taggedLine, lineQueue),
		packets: make(chan bufferedPacket, packetQueue),
		stopped: make(chan struct{}),
		logger:  log,
	}
}

// Push appends a raw line received during flightID to the current packet.
// Lines pushed after Run has returned are dropped.
func (a *Aggregator) Push(flightID int64, line string) {
	select {
	case a.lines <- taggedLine{flightID: flightID, text: line}:
	case <-a.stopped:
		a.logger.Debug().Int64("flight_id", flightID).Str("line", line).Msg("Aggregator stopped, dropping line")
	}
}

// Run collects lines until ctx is cancelled. A packet that is still open at
// cancellation is flushed and resolved before Run returns. Run may only be
// called once.
func (a *Aggregator) Run(ctx context.Context) {
	first := false
	a.running.Do(func() { first = true })
	if !first {
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.resolve(context.WithoutCancel(ctx))
	}()

	a.collect(ctx)
	wg.Wait()
}

func (a *Aggregator) collect(ctx context.Context) {
	defer close(a.packets)
	defer close(a.stopped)

	timer := time.NewTimer(a.quiet)
	timer.Stop()
	defer timer.Stop()

	var buf bufferedPacket
	flush := func() {
		if len(buf.lines) == 0 {
			return
		}
		// The next line starts a fresh buffer.
		a.packets <- buf
		buf = bufferedPacket{}
	}
	add := func(line taggedLine) {
		if len(buf.lines) > 0 && buf.flightID != line.flightID {
			flush()
		}
		buf.flightID = line.flightID
		buf.lines = append(buf.lines, line.text)
	}

	for {
		select {
		case <-ctx.Done():
			a.drain(add)
			flush()
			return

		case line := <-a.lines:
			add(line)
			timer.Reset(a.quiet)

		case <-timer.C:
			flush()
		}
	}
}

// drain hands lines already queued by Push to add.
func (a *Aggregator) drain(add func(taggedLine)) {
	for {
		select {
		case line := <-a.lines:
			add(line)
		default:
			return
		}
	}
}

func (a *Aggregator) resolve(ctx context.Context) {
	for p := range a.packets {
		a.logger.Debug().Int64("flight_id", p.flightID).Int("lines", len(p.lines)).Strs("packet", p.lines).Msg("Serial packet")

		if err := a.safeHandle(ctx, p); err != nil {
			a.logger.Error().Err(err).Int64("flight_id", p.flightID).Int("lines", len(p.lines)).Msg("Error processing buffered packet")
		}
	}
}

func (a *Aggregator) safeHandle(ctx context.Context, p bufferedPacket) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("packet handler panic: %v", r)
		}
	}()

	return a.handle(ctx, p.flightID, p.lines)
}
