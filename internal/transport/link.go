package transport

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/flightctl/internal/errors"
	"codeberg.org/mutker/flightctl/internal/logger"
)

const maxLineLength = 64 * 1024

type openResult struct {
	conn io.ReadCloser
	err  error
}

// Link is an open receiver connection. Lines are delivered by Start; a read
// failure that was not caused by Close ends the link with a runtime error.
type Link struct {
	addr  string
	speed int
	conn  io.ReadCloser

	mu       sync.Mutex
	started  bool
	closed   bool
	closeErr error

	done chan struct{}
	err  error

	logger logger.Logger
}

// Open opens addr through opener, giving up after timeout. A connection
// that completes after the deadline is closed as soon as it arrives.
func Open(ctx context.Context, opener Opener, addr string, speed int, timeout time.Duration, log logger.Logger) (*Link, error) {
	errFactory := errors.New()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan openResult, 1)
	go func() {
		conn, err := opener.Open(addr, speed)
		result <- openResult{conn: conn, err: err}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return nil, errFactory.Wrap(errors.ErrTransportOpen, res.err)
		}

		log.Debug().Str("addr", addr).Int("speed", speed).Msg("Receiver opened")

		return &Link{
			addr:   addr,
			speed:  speed,
			conn:   res.conn,
			done:   make(chan struct{}),
			logger: log,
		}, nil

	case <-ctx.Done():
		go func() {
			if res := <-result; res.err == nil {
				res.conn.Close()
				log.Debug().Str("addr", addr).Msg("Closed receiver that opened after the deadline")
			}
		}()

		return nil, errFactory.Wrap(errors.ErrTransportOpen, ctx.Err())
	}
}

// Addr returns the address the link was opened with.
func (l *Link) Addr() string {
	return l.addr
}

// Start reads lines in a new goroutine and passes each non-blank line,
// without its delimiter, to onLine. It has no effect after the first call.
func (l *Link) Start(onLine func(line string)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.closed {
		return
	}
	l.started = true

	go l.read(onLine)
}

func (l *Link) read(onLine func(string)) {
	defer close(l.done)

	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		l.logger.Debug().Str("line", line).Msg("Serial raw")
		onLine(line)
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	l.err = errors.New().Wrap(errors.ErrTransportRuntime, err)
}

// Done is closed when the reader goroutine has exited.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the runtime error that ended the link, or nil when the link
// was closed locally. It is only meaningful after Done is closed.
func (l *Link) Err() error {
	return l.err
}

// Close closes the connection. Subsequent calls return the first result.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return l.closeErr
	}
	l.closed = true

	if err := l.conn.Close(); err != nil {
		l.closeErr = errors.New().Wrap(errors.ErrTransportRuntime, err)
	}
	if !l.started {
		close(l.done)
	}

	return l.closeErr
}
