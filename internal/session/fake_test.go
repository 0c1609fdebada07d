package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/element-hq/chaosview/internal/protocol"
)

// fakeConn is an in-memory transport. Messages pushed by the test are
// returned from Read in order.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	// sticky keeps Read delivering after Close, like a socket with data
	// still buffered.
	sticky bool

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte), closed: make(chan struct{})}
}

func (c *fakeConn) Read() ([]byte, error) {
	if c.sticky {
		return <-c.in, nil
	}
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Write(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed conn")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// push hands one raw message to the reader goroutine.
func (c *fakeConn) push(t *testing.T, raw []byte) {
	t.Helper()
	select {
	case c.in <- raw:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not take message")
	}
}

func (c *fakeConn) send(t *testing.T, id string, ev protocol.Event) {
	t.Helper()
	c.push(t, envelope(t, id, ev))
}

func envelope(t *testing.T, id string, ev protocol.Event) []byte {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	raw, err := json.Marshal(protocol.Envelope{ID: id, Type: ev.Kind().String(), Payload: payload})
	require.NoError(t, err)
	return raw
}

type fakeDialer struct {
	mu     sync.Mutex
	queue  []*fakeConn
	issued []*fakeConn
	dialed []string
	err    error
}

func (d *fakeDialer) Dial(_ context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, addr)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	if len(d.queue) > 0 {
		conn, d.queue = d.queue[0], d.queue[1:]
	}
	d.issued = append(d.issued, conn)
	return conn, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.issued[i]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// updates records every observer callback.
type updates struct {
	mu   sync.Mutex
	list []Update
}

func (u *updates) observe(up Update) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.list = append(u.list, up)
}

// events counts updates caused by an inbound event of kind k.
func (u *updates) events(k protocol.Kind) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, up := range u.list {
		if up.Event != nil && up.Event.Kind() == k {
			n++
		}
	}
	return n
}

func (u *updates) last() Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.list[len(u.list)-1]
}
