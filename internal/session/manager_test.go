package session_test

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/fanout"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/packet"
	"codeberg.org/mutker/flightctl/internal/session"
	"codeberg.org/mutker/flightctl/internal/storage"
	"codeberg.org/mutker/flightctl/internal/telemetry"
	"codeberg.org/mutker/flightctl/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioCSV = "1,0.0,0.0,0.0,0.0,0.0,9.8,25.0,1013.0,40.0,40.7128,-74.0060,120.0,0,0,8"

type pipeConn struct {
	*io.PipeReader
	closed atomic.Bool
}

func (c *pipeConn) Close() error {
	c.closed.Store(true)
	return c.PipeReader.Close()
}

// fakeReceiver hands out one pipe per successful open.
type fakeReceiver struct {
	mu      sync.Mutex
	conns   []*pipeConn
	writers []*io.PipeWriter
	fail    error
	block   chan struct{}
}

func (r *fakeReceiver) Open(_ string, _ int) (io.ReadCloser, error) {
	if r.block != nil {
		<-r.block
	}
	if r.fail != nil {
		return nil, r.fail
	}

	pr, pw := io.Pipe()
	conn := &pipeConn{PipeReader: pr}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, conn)
	r.writers = append(r.writers, pw)

	return conn, nil
}

func (r *fakeReceiver) last() (*pipeConn, *io.PipeWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[len(r.conns)-1], r.writers[len(r.writers)-1]
}

// countingStore wraps a gateway and counts lifecycle writes.
type countingStore struct {
	storage.Gateway
	creates   atomic.Int32
	completes atomic.Int32
	failStart bool
}

func (s *countingStore) CreateFlight(ctx context.Context, name string, startedAt time.Time) (int64, error) {
	s.creates.Add(1)
	if s.failStart {
		return 0, errors.New().Wrap(storage.ErrStorageAccess, stderrors.New("disk I/O error"))
	}
	return s.Gateway.CreateFlight(ctx, name, startedAt)
}

func (s *countingStore) CompleteFlight(ctx context.Context, id int64, endedAt time.Time) error {
	s.completes.Add(1)
	return s.Gateway.CompleteFlight(ctx, id, endedAt)
}

type fixture struct {
	manager  *session.Manager
	receiver *fakeReceiver
	store    *countingStore
	hub      *fanout.Hub
	lines    chan string
}

func newStore(t *testing.T) storage.Gateway {
	t.Helper()

	repo, err := storage.NewService(storage.Config{DBPath: storage.MemoryPath}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newStore(t)

	f := &fixture{
		receiver: &fakeReceiver{},
		store:    &countingStore{Gateway: repo},
		hub:      fanout.NewHub(16, logger.Nop()),
		lines:    make(chan string, 16),
	}

	state := session.NewState()
	resolver := packet.NewResolver(f.store, f.hub, state, logger.Nop())
	f.manager = session.NewManager(state, session.Config{
		Opener:      f.receiver,
		OpenTimeout: 200 * time.Millisecond,
		Store:       f.store,
		Publisher:   f.hub,
		Sink:        func(_ int64, line string) { f.lines <- line },
		Lines:       resolver,
	}, logger.Nop())
	t.Cleanup(func() { f.manager.Shutdown(context.Background()) })

	return f
}

func nextMessage(t *testing.T, sub *fanout.Subscription) fanout.Message {
	t.Helper()

	select {
	case msg := <-sub.C:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return fanout.Message{}
	}
}

func TestStartInjectCSVStoresRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.hub.Subscribe()

	flight, err := f.manager.Start(ctx, "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusActive, flight.Status)
	assert.True(t, f.manager.IsActive())

	id, ok := f.manager.CurrentID()
	require.True(t, ok)
	assert.Equal(t, flight.ID, id)

	msg := nextMessage(t, sub)
	assert.Equal(t, fanout.EventFlightStarted, msg.Event)
	assert.Equal(t, session.Announcement{ID: flight.ID, Name: "Test Flight"}, msg.Data)

	require.NoError(t, f.manager.InjectTestLine(ctx, flight.ID, scenarioCSV))

	records, err := f.store.Telemetry(ctx, flight.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 120.0, records[0].Altitude)

	stored, err := f.store.GetFlight(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusActive, stored.Status)
}

func TestInjectFailureLineStoresEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flight, err := f.manager.Start(ctx, "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)

	require.NoError(t, f.manager.InjectTestLine(ctx, flight.ID, "FAIL: Roll/Pitch/Yaw: 0.0 / 0.0 / 0.0"))

	events, err := f.store.Events(ctx, flight.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.EventError, events[0].Type)
	assert.Equal(t, telemetry.SourceGyro, events[0].Source)

	// The zero row mined from the same message is kept for dashboard
	// continuity.
	records, err := f.store.Telemetry(ctx, flight.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStopWhileIdle(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Stop(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrNoActiveSession))
	assert.Zero(t, f.store.creates.Load())
	assert.Zero(t, f.store.completes.Load())
}

func TestStopTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flight, err := f.manager.Start(ctx, "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)

	sub := f.hub.Subscribe()

	id, err := f.manager.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, flight.ID, id)
	assert.False(t, f.manager.IsActive())

	conn, _ := f.receiver.last()
	assert.True(t, conn.closed.Load())

	msg := nextMessage(t, sub)
	assert.Equal(t, fanout.EventFlightStopped, msg.Event)
	assert.Equal(t, session.Announcement{ID: flight.ID}, msg.Data)

	stored, err := f.store.GetFlight(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusCompleted, stored.Status)

	_, err = f.manager.Stop(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrNoActiveSession))
	assert.Equal(t, int32(1), f.store.completes.Load())
}

func TestStartWhileActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.Start(ctx, "first", "/dev/null", 9600)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, "second", "/dev/null", 9600)
	assert.True(t, errors.HasCode(err, errors.ErrSessionActive))
	assert.Equal(t, int32(1), f.store.creates.Load())
}

func TestConcurrentStartsHaveOneWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		started  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Start(context.Background(), "race", "/dev/null", 9600)
			switch {
			case err == nil:
				started.Add(1)
			case errors.HasCode(err, errors.ErrSessionActive):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(attempts-1), rejected.Load())
	assert.Equal(t, int32(1), f.store.creates.Load())
}

func TestStartOpenFailureCreatesNoFlight(t *testing.T) {
	f := newFixture(t)
	f.receiver.fail = stderrors.New("no such file or directory")

	_, err := f.manager.Start(context.Background(), "Test Flight", "/dev/ttyUSB9", 9600)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTransportOpen))
	assert.Equal(t, "Receiver not connected", errors.UserMessage(err))
	assert.Zero(t, f.store.creates.Load())
	assert.False(t, f.manager.IsActive())
}

func TestStartOpenTimeout(t *testing.T) {
	f := newFixture(t)
	f.receiver.block = make(chan struct{})
	defer close(f.receiver.block)

	_, err := f.manager.Start(context.Background(), "Test Flight", "/dev/ttyUSB0", 9600)
	assert.True(t, errors.HasCode(err, errors.ErrTransportOpen))
	assert.Zero(t, f.store.creates.Load())
}

func TestStartPersistenceFailureClosesReceiver(t *testing.T) {
	f := newFixture(t)
	f.store.failStart = true

	_, err := f.manager.Start(context.Background(), "Test Flight", "/dev/null", 9600)
	assert.True(t, errors.HasCode(err, errors.ErrPersistence))
	assert.False(t, f.manager.IsActive())

	conn, _ := f.receiver.last()
	assert.True(t, conn.closed.Load())
}

func TestStartRequiresName(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Start(context.Background(), "  ", "/dev/null", 9600)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
	assert.Empty(t, f.receiver.conns)
}

func TestReceiverLinesReachSink(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Start(context.Background(), "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)

	_, w := f.receiver.last()
	go w.Write([]byte("Roll/Pitch/Yaw: 1 / 2 / 3\r\n\nSATS: 7\n"))

	for _, want := range []string{"Roll/Pitch/Yaw: 1 / 2 / 3", "SATS: 7"} {
		select {
		case got := <-f.lines:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("line %q not delivered", want)
		}
	}
}

// A burst still inside its quiet period when the flight stops must not be
// recorded under the next flight.
func TestPacketOpenAtStopStaysWithItsFlight(t *testing.T) {
	const (
		quiet  = 50 * time.Millisecond
		oldCSV = "1,0.0,0.0,0.0,0.0,0.0,9.8,25.0,1013.0,40.0,40.7128,-74.0060,555.0,0,0,8"
		newCSV = "2,0.0,0.0,0.0,0.0,0.0,9.8,25.0,1013.0,40.0,40.7128,-74.0060,777.0,0,0,8"
	)
	ctx := context.Background()
	store := newStore(t)
	hub := fanout.NewHub(16, logger.Nop())
	state := session.NewState()
	resolver := packet.NewResolver(store, hub, state, logger.Nop())
	aggregator := packet.NewAggregator(quiet, resolver.HandlePacket, logger.Nop())

	aggCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		aggregator.Run(aggCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	receiver := &fakeReceiver{}
	manager := session.NewManager(state, session.Config{
		Opener:      receiver,
		OpenTimeout: 200 * time.Millisecond,
		Store:       store,
		Publisher:   hub,
		Sink:        aggregator.Push,
		Lines:       resolver,
	}, logger.Nop())
	t.Cleanup(func() { manager.Shutdown(ctx) })

	first, err := manager.Start(ctx, "first", "/dev/null", 9600)
	require.NoError(t, err)
	_, w := receiver.last()
	_, err = w.Write([]byte(oldCSV + "\n"))
	require.NoError(t, err)

	time.Sleep(quiet / 2)
	_, err = manager.Stop(ctx)
	require.NoError(t, err)

	second, err := manager.Start(ctx, "second", "/dev/null", 9600)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	time.Sleep(8 * quiet)
	records, err := store.Telemetry(ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, records, "packet from the stopped flight leaked into the next one")

	_, w = receiver.last()
	_, err = w.Write([]byte(newCSV + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records, err := store.Telemetry(ctx, second.ID)
		return err == nil && len(records) == 1
	}, time.Second, 5*time.Millisecond)

	records, err = store.Telemetry(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 777.0, records[0].Altitude)
}

func TestReceiverFailureStopsFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	flight, err := f.manager.Start(ctx, "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)
	sub := f.hub.Subscribe()

	_, w := f.receiver.last()
	w.CloseWithError(stderrors.New("device unplugged"))

	require.Eventually(t, func() bool { return !f.manager.IsActive() }, time.Second, 5*time.Millisecond)

	msg := nextMessage(t, sub)
	assert.Equal(t, fanout.EventFlightStopped, msg.Event)

	stored, err := f.store.GetFlight(ctx, flight.ID)
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusCompleted, stored.Status)

	// A new flight can start afterwards.
	_, err = f.manager.Start(ctx, "Second", "/dev/null", 9600)
	assert.NoError(t, err)
}

func TestInjectRequiresActiveFlight(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.manager.InjectTestLine(ctx, 1, scenarioCSV)
	assert.True(t, errors.HasCode(err, errors.ErrNoActiveSession))

	flight, err := f.manager.Start(ctx, "Test Flight", "/dev/null", 9600)
	require.NoError(t, err)

	err = f.manager.InjectTestLine(ctx, flight.ID+1, scenarioCSV)
	assert.True(t, errors.HasCode(err, errors.ErrSessionMismatch))

	_, err = f.manager.Stop(ctx)
	require.NoError(t, err)

	err = f.manager.InjectTestLine(ctx, flight.ID, scenarioCSV)
	assert.True(t, errors.HasCode(err, errors.ErrNoActiveSession))

	records, err := f.store.Telemetry(ctx, flight.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusReflectsActiveFlight(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, session.Status{}, f.manager.Status())

	flight, err := f.manager.Start(context.Background(), "Test Flight", "/dev/ttyACM0", 115200)
	require.NoError(t, err)

	st := f.manager.Status()
	assert.True(t, st.Active)
	assert.Equal(t, flight.ID, st.FlightID)
	assert.Equal(t, "/dev/ttyACM0", st.Addr)
}

var _ transport.Opener = (*fakeReceiver)(nil)
