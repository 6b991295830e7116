package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"potamesh/internal/mesh"
)

// ---- source ----

type fakeSource struct {
	mu    sync.Mutex
	calls int
	// responses are served in order; the last one repeats.
	responses []fakeResponse
}

type fakeResponse struct {
	records []string
	err     error
}

func (s *fakeSource) Fetch(ctx context.Context) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if len(s.responses) == 0 {
		return nil, nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	r := s.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	out := make([]json.RawMessage, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, json.RawMessage(rec))
	}
	return out, nil
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func record(call, freq, mode string, id int) string {
	return fmt.Sprintf(`{"activator":%q,"frequency":%q,"grid4":"FN42","mode":%q,"name":"Test Park","reference":"K-0001","spotId":%d,"spotter":"W2XYZ","spotTime":"2024-01-15T14:30:00"}`,
		call, freq, mode, id)
}

// ---- broker ----

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
	// publishErr, when set, is consulted for every publish on new connections.
	publishErr func(payload []byte) error
}

func (d *fakeDialer) Dial(ctx context.Context) (mesh.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	c.publishErr = d.publishErr
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(t *testing.T) *fakeConn {
	t.Helper()
	var c *fakeConn
	waitFor(t, "connection", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.conns) == 0 {
			return false
		}
		c = d.conns[len(d.conns)-1]
		return true
	})
	return c
}

type fakeConn struct {
	mu         sync.Mutex
	published  [][]byte
	topics     []string
	subscribed string
	publishErr func(payload []byte) error

	frames chan []byte
	once   sync.Once
	done   chan struct{}
	err    error
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) Publish(ctx context.Context, topic string, payload []byte) error {
	select {
	case <-c.done:
		return mesh.ErrNotConnected
	default:
	}
	if c.publishErr != nil {
		if err := c.publishErr(payload); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, append([]byte(nil), payload...))
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeConn) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = topic
	return c.frames, nil
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.drop(mesh.ErrNotConnected)
	return nil
}

func (c *fakeConn) drop(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) Published() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published...)
}

func (c *fakeConn) Subscribed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ---- helpers ----

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// runAsync starts fn and returns a channel receiving its result.
func runAsync(ctx context.Context, fn func(context.Context) error) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- fn(ctx) }()
	return ch
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not exit in time")
		return nil
	}
}

var errBoom = errors.New("boom")
