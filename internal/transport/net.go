// Package transport establishes the byte streams that session transports run on:
// TCP or unix sockets, optionally wrapped in TLS or mutual TLS.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/danmuck/monproto/internal/logging"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// NetConnector dials and accepts single stream connections according to a
// session.Config.
type NetConnector struct {
	cfg session.Config
	log zerolog.Logger

	// OnListen, if set, is called with the bound address once Accept listens.
	OnListen func(net.Addr)
}

func NewNetConnector(cfg session.Config) *NetConnector {
	return &NetConnector{
		cfg: cfg.WithDefaults(),
		log: logging.Component("transport"),
	}
}

func (n *NetConnector) Config() session.Config {
	return n.cfg
}

// DialConn opens one connection to address and completes the TLS handshake when
// TLS is enabled.
func (n *NetConnector) DialConn(ctx context.Context, address string) (net.Conn, error) {
	if err := n.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: n.cfg.ConnectTimeout}
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if !n.cfg.TLS.Enabled {
		n.log.Debug().Str("network", network).Str("address", addr).Msg("dialed")
		return raw, nil
	}

	tlsCfg, err := ClientTLSConfig(n.cfg, addr)
	if err != nil {
		return nil, multierr.Append(err, raw.Close())
	}
	conn := tls.Client(raw, tlsCfg)
	if err := n.handshake(ctx, conn); err != nil {
		return nil, multierr.Append(fmt.Errorf("transport: tls handshake: %w", err), raw.Close())
	}
	n.log.Debug().Str("network", network).Str("address", addr).Msg("dialed with tls")
	return conn, nil
}

// AcceptConn listens on address, accepts exactly one peer, and stops listening.
// Cancelling ctx aborts the wait.
func (n *NetConnector) AcceptConn(ctx context.Context, address string) (net.Conn, error) {
	if err := n.cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := n.Listen(address)
	if err != nil {
		return nil, err
	}
	if n.OnListen != nil {
		n.OnListen(ln.Addr())
	}
	n.log.Info().Str("address", ln.Addr().String()).Msg("waiting for peer")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	conn, err := ln.Accept()
	stopped := stop()
	closeErr := ln.Close()
	if err != nil {
		if !stopped || ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, multierr.Append(err, ignoreClosed(closeErr))
	}

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := n.handshake(ctx, tlsConn); err != nil {
			return nil, multierr.Append(fmt.Errorf("transport: tls handshake: %w", err), conn.Close())
		}
		if id := PeerIdentity(tlsConn); id != "" {
			n.log.Info().Str("peer", id).Msg("peer authenticated")
		}
	}
	n.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("peer accepted")
	return conn, nil
}

// Listen opens a TCP or unix listener, wrapped in TLS when enabled. A stale unix
// socket file is removed first.
func (n *NetConnector) Listen(address string) (net.Listener, error) {
	network, addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if network == NetworkUnix {
		if err := os.Remove(addr); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	if !n.cfg.TLS.Enabled {
		return ln, nil
	}
	tlsCfg, err := ServerTLSConfig(n.cfg)
	if err != nil {
		return nil, multierr.Append(err, ln.Close())
	}
	return tls.NewListener(ln, tlsCfg), nil
}

func (n *NetConnector) handshake(ctx context.Context, conn *tls.Conn) error {
	hctx, cancel := context.WithTimeout(ctx, n.cfg.HandshakeTimeout)
	defer cancel()
	return conn.HandshakeContext(hctx)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
