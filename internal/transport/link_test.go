package transport_test

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/logger"
	"codeberg.org/mutker/flightctl/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackedConn struct {
	io.Reader
	closed atomic.Bool
}

func (c *trackedConn) Close() error {
	c.closed.Store(true)
	return nil
}

func pipeOpener(r io.ReadCloser) transport.Opener {
	return transport.OpenerFunc(func(string, int) (io.ReadCloser, error) {
		return r, nil
	})
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestLinkDeliversLines(t *testing.T) {
	pr, pw := io.Pipe()
	link, err := transport.Open(context.Background(), pipeOpener(pr), "/dev/ttyUSB0", 9600, time.Second, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", link.Addr())

	sink := &lineSink{}
	link.Start(sink.add)

	_, err = io.WriteString(pw, "1,2,3\r\n\r\nSATS: 7\r\n   \r\nFAIL: GPS\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"1,2,3", "SATS: 7", "FAIL: GPS"}, sink.get())

	require.NoError(t, link.Close())
	<-link.Done()
	assert.NoError(t, link.Err(), "local close is not a runtime error")
}

func TestLinkRuntimeErrorAfterOpen(t *testing.T) {
	pr, pw := io.Pipe()
	link, err := transport.Open(context.Background(), pipeOpener(pr), "COM5", 9600, time.Second, logger.Nop())
	require.NoError(t, err)
	link.Start(func(string) {})

	pw.CloseWithError(stderrors.New("device unplugged"))

	select {
	case <-link.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not stop")
	}
	require.Error(t, link.Err())
	assert.True(t, errors.HasCode(link.Err(), errors.ErrTransportRuntime))
}

func TestLinkEOFIsRuntimeError(t *testing.T) {
	pr, pw := io.Pipe()
	link, err := transport.Open(context.Background(), pipeOpener(pr), "COM5", 9600, time.Second, logger.Nop())
	require.NoError(t, err)
	link.Start(func(string) {})

	pw.Close()
	<-link.Done()
	assert.True(t, errors.HasCode(link.Err(), errors.ErrTransportRuntime))
}

func TestOpenFailure(t *testing.T) {
	opener := transport.OpenerFunc(func(string, int) (io.ReadCloser, error) {
		return nil, stderrors.New("open /dev/ttyUSB9: no such file or directory")
	})

	_, err := transport.Open(context.Background(), opener, "/dev/ttyUSB9", 9600, time.Second, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTransportOpen))
	assert.Equal(t, "Receiver not connected", errors.UserMessage(err))
}

func TestOpenTimeoutClosesLateConnection(t *testing.T) {
	release := make(chan struct{})
	conn := &trackedConn{}
	opener := transport.OpenerFunc(func(string, int) (io.ReadCloser, error) {
		<-release
		return conn, nil
	})

	start := time.Now()
	_, err := transport.Open(context.Background(), opener, "COM5", 9600, 20*time.Millisecond, logger.Nop())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTransportOpen))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	assert.Eventually(t, conn.closed.Load, time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &trackedConn{}
	link, err := transport.Open(context.Background(), pipeOpener(conn), "COM5", 9600, time.Second, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, link.Close())
	require.NoError(t, link.Close())
	<-link.Done()

	link.Start(func(string) { t.Fatal("closed link must not read") })
	assert.True(t, conn.closed.Load())
}
