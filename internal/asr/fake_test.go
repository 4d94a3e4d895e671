package asr

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type sent struct {
	typ  int
	data []byte
}

var errWriteTimeout = errors.New("i/o timeout")

// fakeConn feeds upstream messages from in and records writes. A stalled conn
// blocks every write until its write deadline passes.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	writes    []sent
	stalled   bool
	deadline  time.Time
	deadlines int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(typ int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}

	c.mu.Lock()
	stalled, deadline := c.stalled, c.deadline
	c.mu.Unlock()
	if stalled {
		if deadline.IsZero() {
			<-c.closed
			return errors.New("closed")
		}
		select {
		case <-time.After(time.Until(deadline)):
			return errWriteTimeout
		case <-c.closed:
			return errors.New("closed")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, sent{typ: typ, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
	c.deadlines++
	return nil
}

func (c *fakeConn) stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled = true
}

func (c *fakeConn) Deadlines() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlines
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sent(nil), c.writes...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out conns; gate, when set, blocks Dial until closed.
type fakeDialer struct {
	gate chan struct{}
	err  error

	mu     sync.Mutex
	calls  int
	urls   []string
	header http.Header
	conns  []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (UpstreamConn, error) {
	d.mu.Lock()
	d.calls++
	d.urls = append(d.urls, url)
	d.header = header
	gate, err := d.gate, d.err
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
