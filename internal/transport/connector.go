package transport

import (
	"context"
	"net"

	"github.com/danmuck/monproto/internal/protocol/session"
)

// WrapFunc turns an established connection into a message transport.
type WrapFunc[M any] func(conn net.Conn) session.Transport[M]

// StreamConnector adapts a NetConnector to session.Connector by wrapping each
// connection with a message codec.
type StreamConnector[M any] struct {
	Net  *NetConnector
	Wrap WrapFunc[M]
}

func NewStreamConnector[M any](n *NetConnector, wrap WrapFunc[M]) *StreamConnector[M] {
	return &StreamConnector[M]{Net: n, Wrap: wrap}
}

func (c *StreamConnector[M]) Dial(ctx context.Context, address string) (session.Transport[M], error) {
	conn, err := c.Net.DialConn(ctx, address)
	if err != nil {
		return nil, err
	}
	return c.Wrap(conn), nil
}

func (c *StreamConnector[M]) Accept(ctx context.Context, address string) (session.Transport[M], error) {
	conn, err := c.Net.AcceptConn(ctx, address)
	if err != nil {
		return nil, err
	}
	return c.Wrap(conn), nil
}
