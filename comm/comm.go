// Package comm provides the line-oriented serial transport used by
// cmd/extruderfin to exercise line_rx()/line_tx(): the byte-stream
// boundary the scheduler's command_dispatch task treats as an external
// collaborator. The ring buffers and RX/TX interrupt service routines
// backing a real embedded UART are out of scope; this package is the
// host-side stand-in that lets a cooperative scheduler poll for
// complete lines over a real serial port instead.
package comm

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// ErrNotConnected is returned by LineTX/Open-dependent calls made before
// a successful Open.
var ErrNotConnected = errors.New("comm: not connected")

// LineTransport frames a byte stream as newline-terminated lines and
// exposes them as non-blocking line_rx()/line_tx() operations, backed
// by a real serial connection. Open retries the initial dial with
// exponential backoff; a connection lost after Open is not reopened.
type LineTransport struct {
	mu sync.Mutex

	cfg  *serial.Config
	conn io.ReadWriteCloser

	rx     chan string
	closed chan struct{}
}

// NewLineTransport returns a transport bound to the given serial
// configuration. Open must be called before any line can be sent or
// received.
func NewLineTransport(cfg *serial.Config) *LineTransport {
	return &LineTransport{
		cfg:    cfg,
		rx:     make(chan string, 16),
		closed: make(chan struct{}),
	}
}

// Attach wraps an already-open connection as a LineTransport, skipping
// the serial dial entirely, and starts the background line reader. This
// is how tests (and any non-serial io.ReadWriteCloser, such as an
// in-process pipe) get a working LineTransport without a real port.
func Attach(conn io.ReadWriteCloser) *LineTransport {
	lt := &LineTransport{
		rx:     make(chan string, 16),
		closed: make(chan struct{}),
		conn:   conn,
	}
	go lt.readLoop(conn)
	return lt
}

// Open dials the serial port, retrying with exponential backoff the way
// the original RemoteDevice did for a flaky instrument link, then starts
// the background line reader. Open is idempotent once connected.
func (lt *LineTransport) Open() error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.conn != nil {
		return nil
	}

	var conn io.ReadWriteCloser
	op := func() error {
		c, err := serial.OpenPort(lt.cfg)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}
	lt.conn = conn
	go lt.readLoop(conn)
	return nil
}

// readLoop feeds complete lines onto rx until the connection closes or
// errors; it never blocks LineRX's caller.
func (lt *LineTransport) readLoop(conn io.ReadWriteCloser) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		select {
		case lt.rx <- line:
		case <-lt.closed:
			return
		}
	}
}

// LineRX returns the next complete line and true, or ("", false) if
// none is available yet -- the non-blocking poll shape line_rx() names
// in spec.md's Non-goals boundary.
func (lt *LineTransport) LineRX() (string, bool) {
	select {
	case line := <-lt.rx:
		return line, true
	default:
		return "", false
	}
}

// LineTX writes s with a trailing newline. Safe for concurrent use with
// LineRX (they touch disjoint halves of the connection).
func (lt *LineTransport) LineTX(s string) error {
	lt.mu.Lock()
	conn := lt.conn
	lt.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	_, err := io.WriteString(conn, s+"\n")
	return err
}

// Close tears down the connection and stops the background reader.
func (lt *LineTransport) Close() error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.conn == nil {
		return nil
	}
	close(lt.closed)
	err := lt.conn.Close()
	lt.conn = nil
	return err
}
