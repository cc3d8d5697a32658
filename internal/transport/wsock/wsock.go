// Package wsock carries JSON messages as websocket text frames.
package wsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/monproto/internal/logging"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

const DefaultPath = "/monitor"

// closeGrace bounds the close handshake write.
const closeGrace = time.Second

type Transport[M any] struct {
	conn         *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func New[M any](conn *websocket.Conn, cfg session.Config) *Transport[M] {
	return &Transport[M]{
		conn:         conn,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
}

// ReadMessage maps a normal or going-away close from the peer to io.EOF.
func (t *Transport[M]) ReadMessage(ctx context.Context) (M, error) {
	var zero M
	release, err := transport.BindDeadline(ctx, t.readTimeout, t.conn.SetReadDeadline)
	if err != nil {
		return zero, err
	}
	defer release()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return zero, io.EOF
			}
			return zero, transport.ContextError(ctx, err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		var msg M
		if err := json.Unmarshal(data, &msg); err != nil {
			return zero, fmt.Errorf("wsock: decode: %w", err)
		}
		return msg, nil
	}
}

func (t *Transport[M]) WriteMessage(ctx context.Context, msg M) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsock: encode: %w", err)
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	release, err := transport.BindDeadline(ctx, t.writeTimeout, t.conn.SetWriteDeadline)
	if err != nil {
		return err
	}
	defer release()
	return transport.ContextError(ctx, t.conn.WriteMessage(websocket.TextMessage, data))
}

// Close sends a close frame on a best-effort basis and closes the connection.
func (t *Transport[M]) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		if errors.Is(werr, websocket.ErrCloseSent) || errors.Is(werr, net.ErrClosed) {
			werr = nil
		}
		t.closeErr = multierr.Append(werr, t.conn.Close())
	})
	return t.closeErr
}

// Connector dials ws:// or wss:// URLs and accepts one upgrade on Path.
type Connector[M any] struct {
	Net  *transport.NetConnector
	Path string

	log zerolog.Logger
}

func NewConnector[M any](n *transport.NetConnector) *Connector[M] {
	return &Connector[M]{Net: n, Path: DefaultPath, log: logging.Component("wsock")}
}

// Dial accepts a full ws(s) URL or host:port, in which case Path is appended.
func (c *Connector[M]) Dial(ctx context.Context, address string) (session.Transport[M], error) {
	cfg := c.Net.Config()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	url, host := c.dialURL(address, cfg.TLS.Enabled)
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := transport.ClientTLSConfig(cfg, host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsock: dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("wsock: dial %s: %w", url, err)
	}
	c.log.Debug().Str("url", url).Msg("websocket dialed")
	return New[M](conn, cfg), nil
}

func (c *Connector[M]) dialURL(address string, secure bool) (url, host string) {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		rest := address[strings.Index(address, "://")+3:]
		host = rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			host = rest[:i]
		}
		return address, host
	}
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return scheme + "://" + address + c.path(), address
}

func (c *Connector[M]) path() string {
	if c.Path == "" {
		return DefaultPath
	}
	return c.Path
}

// Accept serves HTTP on address until one client upgrades on Path, then stops
// listening. Other requests get 503 once a peer is taken.
func (c *Connector[M]) Accept(ctx context.Context, address string) (session.Transport[M], error) {
	cfg := c.Net.Config()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	ln, err := c.Net.Listen(address)
	if err != nil {
		return nil, err
	}
	if c.Net.OnListen != nil {
		c.Net.OnListen(ln.Addr())
	}

	accepted := make(chan *websocket.Conn, 1)
	var claimed atomic.Bool
	upgrader := websocket.Upgrader{HandshakeTimeout: cfg.HandshakeTimeout}
	mux := http.NewServeMux()
	mux.HandleFunc(c.path(), func(w http.ResponseWriter, r *http.Request) {
		if !claimed.CompareAndSwap(false, true) {
			http.Error(w, "peer already connected", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.log.Warn().Err(err).Msg("websocket upgrade failed")
			claimed.Store(false)
			return
		}
		accepted <- conn
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: cfg.HandshakeTimeout}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	c.log.Info().Str("address", ln.Addr().String()).Str("path", c.path()).Msg("waiting for websocket peer")

	select {
	case conn := <-accepted:
		// Hijacked connections survive Close.
		_ = srv.Close()
		c.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("websocket peer accepted")
		return New[M](conn, cfg), nil
	case err := <-served:
		return nil, fmt.Errorf("wsock: serve: %w", err)
	case <-ctx.Done():
		err := multierr.Append(ctx.Err(), srv.Close())
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
		return nil, err
	}
}
