package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedRead struct {
	msg   string
	err   error
	panic bool
}

// fakeTransport replays scripted reads and records writes.
type fakeTransport struct {
	reads  chan scriptedRead
	writes chan string

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}

	mu       sync.Mutex
	writeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan scriptedRead, 64),
		writes: make(chan string, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage(ctx context.Context) (string, error) {
	select {
	case r := <-f.reads:
		if r.panic {
			panic("scripted read panic")
		}
		return r.msg, r.err
	case <-f.closed:
		return "", net.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *fakeTransport) WriteMessage(ctx context.Context, msg string) error {
	f.mu.Lock()
	werr := f.writeErr
	f.mu.Unlock()
	if werr != nil {
		return werr
	}
	select {
	case f.writes <- msg:
		return nil
	case <-f.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	if f.closeGate != nil {
		<-f.closeGate
	}
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) feed(msgs ...string) {
	for _, m := range msgs {
		f.reads <- scriptedRead{msg: m}
	}
}

func (f *fakeTransport) fail(err error) {
	f.reads <- scriptedRead{err: err}
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// fakeConnector hands out fresh fakeTransports unless establish overrides it.
type fakeConnector struct {
	mu         sync.Mutex
	calls      int
	transports []*fakeTransport
	establish  func(ctx context.Context, call int) (Transport[string], error)
}

func (c *fakeConnector) Dial(ctx context.Context, address string) (Transport[string], error) {
	return c.next(ctx)
}

func (c *fakeConnector) Accept(ctx context.Context, address string) (Transport[string], error) {
	return c.next(ctx)
}

func (c *fakeConnector) next(ctx context.Context) (Transport[string], error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	fn := c.establish
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}
	t := newFakeTransport()
	c.mu.Lock()
	c.transports = append(c.transports, t)
	c.mu.Unlock()
	return t, nil
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeConnector) transport(i int) *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.transports) {
		return nil
	}
	return c.transports[i]
}

var errScripted = errors.New("scripted failure")

func newTestSession(t *testing.T, conn Connector[string]) *Session[string] {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backoff.Jitter = false
	s := New[string](conn, Options{Name: "test", Config: cfg})
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func waitState(t *testing.T, s *Session[string], want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.WaitState(ctx, want); err != nil {
		t.Fatalf("wait for state %s: %v (state=%s)", want, err, s.State())
	}
}

func recvWithin(t *testing.T, s *Session[string]) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Receive(ctx)
}

func writtenWithin(t *testing.T, ft *fakeTransport) string {
	t.Helper()
	select {
	case msg := <-ft.writes:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a write")
		return ""
	}
}
