package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/monproto/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	opConnect = "connect"
	opAccept  = "accept"
)

// Options configures a Session at construction.
type Options struct {
	Name     string
	Config   Config
	Observer Observer
	Clock    clock.Clock
	Logger   *zerolog.Logger
}

// ConnectOption adjusts one Connect or Accept call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	timeout  time.Duration
	lifetime context.Context
}

// WithTimeout overrides Config.ConnectTimeout for one call; d <= 0 disables it.
func WithTimeout(d time.Duration) ConnectOption {
	return func(o *connectOptions) {
		o.timeout = d
	}
}

// WithLifetime ties the established connection to ctx: when ctx ends the
// session disconnects as if the transport had failed.
func WithLifetime(ctx context.Context) ConnectOption {
	return func(o *connectOptions) {
		o.lifetime = ctx
	}
}

// Session coordinates one connection at a time to a monitor-protocol peer.
// All methods are safe for concurrent use.
type Session[M any] struct {
	name      string
	cfg       Config
	connector Connector[M]
	observer  Observer
	clock     clock.Clock
	log       zerolog.Logger

	mu         sync.Mutex
	state      State
	changed    chan struct{}
	id         string
	lastErr    error
	cycle      *cycle[M]
	inbox      chan M
	connecting *attempt
}

type attempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time view of a Session.
type Status struct {
	Name        string    `json:"name"`
	ID          string    `json:"id,omitempty"`
	State       string    `json:"state"`
	LastError   string    `json:"last_error,omitempty"`
	Pending     int       `json:"pending"`
	Buffered    int       `json:"buffered"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
}

// New returns an idle session that establishes transports through connector.
func New[M any](connector Connector[M], opts Options) *Session[M] {
	name := opts.Name
	if name == "" {
		name = "session"
	}
	s := &Session[M]{
		name:      name,
		cfg:       opts.Config.WithDefaults(),
		connector: connector,
		observer:  opts.Observer,
		clock:     opts.Clock,
		state:     StateIdle,
		changed:   make(chan struct{}),
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if opts.Logger != nil {
		s.log = opts.Logger.With().Str("session", name).Logger()
	} else {
		s.log = logging.Component("session").With().Str("session", name).Logger()
	}
	return s
}

func (s *Session[M]) Name() string {
	return s.name
}

func (s *Session[M]) Config() Config {
	return s.cfg
}

func (s *Session[M]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID identifies the current or most recent connection cycle.
func (s *Session[M]) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// LastError is the terminal error of the most recent cycle, nil after a clean one.
func (s *Session[M]) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// StateChanged returns a channel closed at the next state transition.
func (s *Session[M]) StateChanged() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitState blocks until the session is in want or ctx ends.
func (s *Session[M]) WaitState(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		if s.state == want {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session[M]) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:     s.name,
		ID:       s.id,
		State:    s.state.String(),
		Buffered: len(s.inbox),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.cycle != nil {
		st.Pending = s.cycle.outbox.Len()
		st.ConnectedAt = s.cycle.connectedAt
	}
	return st
}

// Connect dials address and starts the reader and writer once established.
func (s *Session[M]) Connect(ctx context.Context, address string, opts ...ConnectOption) error {
	return s.establish(ctx, opConnect, address, opts)
}

// Accept waits for one peer on address and starts the reader and writer.
func (s *Session[M]) Accept(ctx context.Context, address string, opts ...ConnectOption) error {
	return s.establish(ctx, opAccept, address, opts)
}

// Send queues msg for the writer. It never blocks.
func (s *Session[M]) Send(msg M) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.cycle == nil {
		return ErrNotRunning
	}
	return s.cycle.outbox.Push(msg)
}

// Receive returns the next message in arrival order. Once the session has left
// the running state and every buffered message was consumed it returns
// ErrDisconnected.
//
// While a Connect or Accept is in flight Receive waits for its outcome.
func (s *Session[M]) Receive(ctx context.Context) (M, error) {
	var zero M
	s.mu.Lock()
	for s.state == StateConnecting {
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		s.mu.Lock()
	}
	in := s.inbox
	s.mu.Unlock()
	if in == nil {
		return zero, ErrDisconnected
	}

	select {
	case msg, ok := <-in:
		if !ok {
			return zero, ErrDisconnected
		}
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Disconnect tears down the current connection and waits for it. It is safe to
// call from several goroutines; all of them observe the same teardown. The
// returned error is the cycle's terminal error, if any; the session is idle
// either way.
func (s *Session[M]) Disconnect() error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateIdle:
			s.dropInboxLocked()
			s.mu.Unlock()
			return nil

		case StateConnecting:
			at := s.connecting
			s.mu.Unlock()
			at.cancel()
			<-at.done

		default:
			c := s.cycle
			c.discardInbox = true
			done := s.scheduleTeardownLocked(c, causeRequested)
			s.mu.Unlock()
			<-done
			return c.result
		}
	}
}

func (s *Session[M]) establish(ctx context.Context, op, address string, opts []ConnectOption) error {
	if s.connector == nil {
		return &ConnectError{Op: op, Address: address, Err: ErrConnectorRequired}
	}
	co := connectOptions{timeout: s.cfg.ConnectTimeout}
	for _, opt := range opts {
		opt(&co)
	}

	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return newStateError(op, st)
	}
	attemptCtx, cancel := s.attemptContext(ctx, co.timeout)
	defer cancel()
	at := &attempt{cancel: cancel, done: make(chan struct{})}
	defer close(at.done)
	s.connecting = at
	s.id = uuid.NewString()
	s.lastErr = nil
	s.dropInboxLocked()
	id := s.id
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	log := s.log.With().Str("cycle", id).Str("op", op).Str("address", address).Logger()
	log.Debug().Dur("timeout", co.timeout).Msg("session establishing")

	t, err := s.runConnector(attemptCtx, op, address)

	s.mu.Lock()
	s.connecting = nil
	if err == nil && attemptCtx.Err() != nil {
		// Disconnect cancelled the attempt after the connector returned.
		_ = t.Close()
		err = attemptCause(attemptCtx, attemptCtx.Err())
	}
	if err != nil {
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		cerr := &ConnectError{Op: op, Address: address, Err: err}
		s.observer.ConnectAttempt(s.name, op, cerr)
		log.Warn().Err(err).Msg("session establish failed")
		return cerr
	}
	s.startCycleLocked(id, t, co.lifetime, log)
	s.mu.Unlock()

	s.observer.ConnectAttempt(s.name, op, nil)
	log.Info().Msg("session running")
	return nil
}

func (s *Session[M]) attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return s.clock.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// runConnector returns as soon as ctx ends even if the connector ignores it; a
// transport produced after that point is closed.
func (s *Session[M]) runConnector(ctx context.Context, op, address string) (Transport[M], error) {
	type result struct {
		t   Transport[M]
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		if op == opAccept {
			r.t, r.err = s.connector.Accept(ctx, address)
		} else {
			r.t, r.err = s.connector.Dial(ctx, address)
		}
		ch <- r
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, attemptCause(ctx, r.err)
		}
		if r.t == nil {
			return nil, fmt.Errorf("%s returned no transport", op)
		}
		return r.t, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.t != nil {
				_ = r.t.Close()
			}
		}()
		return nil, attemptCause(ctx, ctx.Err())
	}
}

func attemptCause(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrConnectTimeout, context.DeadlineExceeded)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session[M]) setStateLocked(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	close(s.changed)
	s.changed = make(chan struct{})
	s.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state")
	s.observer.StateChanged(s.name, from, to)
}

// dropInboxLocked discards undelivered messages of a finished cycle. The channel
// is closed by then, so draining terminates.
func (s *Session[M]) dropInboxLocked() {
	in := s.inbox
	s.inbox = nil
	if in == nil || (s.cycle != nil && s.cycle.inbox == in) {
		return
	}
	dropped := 0
	for range in {
		dropped++
	}
	if dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Msg("discarded undelivered messages")
	}
}
