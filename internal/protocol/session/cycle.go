package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	causeRequested   = "requested"
	causeReaderError = "reader_error"
	causeWriterError = "writer_error"
	causeEndOfStream = "end_of_stream"
	causeLifetime    = "lifetime"
	causePanic       = "panic"
)

// cycle is the state owned by one Connect/Accept..teardown span.
type cycle[M any] struct {
	id          string
	transport   Transport[M]
	outbox      *Outbox[M]
	inbox       chan M
	cancel      context.CancelFunc
	group       *errgroup.Group
	stopLife    func() bool
	connectedAt time.Time
	log         zerolog.Logger

	// guarded by Session.mu
	tearingDown bool
	cause       string
	// discardInbox is set by Disconnect; undelivered messages are then
	// dropped before the session reports idle.
	discardInbox bool

	errMu     sync.Mutex
	readerErr error
	writerErr error
	panicErr  error

	// written once before done is closed
	result error
	done   chan struct{}
}

func (s *Session[M]) startCycleLocked(id string, t Transport[M], lifetime context.Context, log zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	c := &cycle[M]{
		id:          id,
		transport:   t,
		outbox:      NewOutbox[M](s.cfg.OutgoingLimit),
		inbox:       make(chan M, s.cfg.IncomingBuffer),
		cancel:      cancel,
		group:       g,
		connectedAt: s.clock.Now(),
		log:         log,
		done:        make(chan struct{}),
	}
	s.cycle = c
	s.inbox = c.inbox
	s.setStateLocked(StateRunning)

	if lifetime != nil {
		c.stopLife = context.AfterFunc(lifetime, func() {
			s.requestTeardown(c, causeLifetime)
		})
	}
	g.Go(s.guard(c, OriginReader, func() error { return s.readLoop(gctx, c) }))
	g.Go(s.guard(c, OriginWriter, func() error { return s.writeLoop(gctx, c) }))
}

// guard turns a task panic into a DisconnectError and a teardown request.
func (s *Session[M]) guard(c *cycle[M], origin Origin, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				perr := &DisconnectError{Err: fmt.Errorf("%s panic: %v", origin, r)}
				c.errMu.Lock()
				if c.panicErr == nil {
					c.panicErr = perr
				}
				c.errMu.Unlock()
				c.log.Error().Str("task", string(origin)).Interface("panic", r).Msg("session task panicked")
				s.requestTeardown(c, causePanic)
				err = perr
			}
		}()
		return fn()
	}
}

func (c *cycle[M]) record(origin Origin, err error) *TransportError {
	terr := &TransportError{Origin: origin, Err: err}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	switch origin {
	case OriginReader:
		if c.readerErr == nil {
			c.readerErr = terr
		}
	case OriginWriter:
		if c.writerErr == nil {
			c.writerErr = terr
		}
	}
	return terr
}

// terminal merges the task errors. A panic outranks I/O errors; between the two
// tasks the reader's error wins since it usually carries the root cause.
func (c *cycle[M]) terminal() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	switch {
	case c.panicErr != nil:
		return c.panicErr
	case c.readerErr != nil:
		return c.readerErr
	case c.writerErr != nil:
		return c.writerErr
	default:
		return nil
	}
}
