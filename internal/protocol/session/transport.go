package session

import (
	"context"
	"fmt"
)

// Transport is one established bidirectional message stream.
//
// ReadMessage returns io.EOF when the peer ended the stream cleanly. Close must be
// safe to call more than once and must unblock pending reads and writes.
type Transport[M any] interface {
	ReadMessage(ctx context.Context) (M, error)
	WriteMessage(ctx context.Context, msg M) error
	Close() error
}

// Connector establishes transports for Connect (Dial) and Accept.
type Connector[M any] interface {
	Dial(ctx context.Context, address string) (Transport[M], error)
	Accept(ctx context.Context, address string) (Transport[M], error)
}

// HandshakeFunc runs on a fresh transport before the session reports running,
// e.g. to consume a greeting and negotiate capabilities.
type HandshakeFunc[M any] func(ctx context.Context, t Transport[M]) error

// WithHandshake wraps c so that every established transport passes fn first.
// A transport that fails the handshake is closed.
func WithHandshake[M any](c Connector[M], fn HandshakeFunc[M]) Connector[M] {
	if fn == nil {
		return c
	}
	return handshakeConnector[M]{next: c, fn: fn}
}

type handshakeConnector[M any] struct {
	next Connector[M]
	fn   HandshakeFunc[M]
}

func (h handshakeConnector[M]) Dial(ctx context.Context, address string) (Transport[M], error) {
	t, err := h.next.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return h.shake(ctx, t)
}

func (h handshakeConnector[M]) Accept(ctx context.Context, address string) (Transport[M], error) {
	t, err := h.next.Accept(ctx, address)
	if err != nil {
		return nil, err
	}
	return h.shake(ctx, t)
}

func (h handshakeConnector[M]) shake(ctx context.Context, t Transport[M]) (Transport[M], error) {
	if err := h.fn(ctx, t); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return t, nil
}
