package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/monproto/internal/admin"
	"github.com/danmuck/monproto/internal/auth"
	"github.com/danmuck/monproto/internal/config"
	"github.com/danmuck/monproto/internal/logging"
	"github.com/danmuck/monproto/internal/observability"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/transport"
	"github.com/danmuck/monproto/internal/transport/framed"
	"github.com/danmuck/monproto/internal/transport/jsonl"
	"github.com/danmuck/monproto/internal/transport/wsock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// messageType tags framed payloads produced by monctl.
const messageType uint32 = 1

type message = json.RawMessage

type app struct {
	cfg      config.MonctlConfig
	in       io.Reader
	out      io.Writer
	outMu    sync.Mutex
	log      zerolog.Logger
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer

	// onListen and onAdmin report bound addresses; tests use them to find ports.
	onListen func(net.Addr)
	onAdmin  func(net.Addr)
}

func newApp(cfg config.MonctlConfig, in io.Reader, out io.Writer) *app {
	return &app{
		cfg:      cfg,
		in:       in,
		out:      out,
		log:      logging.Component("monctl"),
		metrics:  observability.Default(),
		gatherer: prometheus.DefaultGatherer,
	}
}

func (a *app) connector() (session.Connector[message], error) {
	n := transport.NewNetConnector(a.cfg.Session)
	n.OnListen = a.onListen
	switch a.cfg.Transport {
	case config.TransportJSONL:
		return jsonl.NewConnector[message](n), nil
	case config.TransportFramed:
		opts := framed.OptionsFrom(a.cfg.Session)
		if a.cfg.Token != "" {
			opts.Token = a.cfg.Token
			opts.Validator = auth.StaticToken{Token: a.cfg.Token}
		}
		return framed.NewConnector[message](n, framed.JSONCodec[message]{MessageType: messageType}, opts), nil
	case config.TransportWS:
		return wsock.NewConnector[message](n), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", a.cfg.Transport)
	}
}

// run establishes one connection and pumps messages until the peer goes away
// or ctx is cancelled. The result is the session's terminal error.
func (a *app) run(ctx context.Context) error {
	conn, err := a.connector()
	if err != nil {
		return err
	}
	sess := session.New[message](conn, session.Options{
		Name:     a.cfg.Name,
		Config:   a.cfg.Session,
		Observer: a.metrics.SessionObserver(),
	})

	if a.cfg.Admin.Addr == "" {
		return a.session(ctx, sess)
	}

	srv := admin.New(admin.Config{
		Addr:        a.cfg.Admin.Addr,
		CORSOrigins: a.cfg.Admin.CORSOrigins,
		Token:       a.cfg.Admin.Token,
	}, a.metrics, a.gatherer)
	srv.Register(sess)
	ln, err := net.Listen("tcp", a.cfg.Admin.Addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	if a.onAdmin != nil {
		a.onAdmin(ln.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(gctx)
	defer stopAdmin()
	g.Go(func() error { return srv.ServeListener(adminCtx, ln) })
	g.Go(func() error {
		defer stopAdmin()
		return a.session(gctx, sess)
	})
	return g.Wait()
}

func (a *app) session(ctx context.Context, sess *session.Session[message]) error {
	if err := a.establish(ctx, sess); err != nil {
		return err
	}
	defer a.disconnect(sess)

	if !a.cfg.Echo {
		go a.pumpStdin(sess)
	}
	for {
		msg, err := sess.Receive(context.Background())
		if errors.Is(err, session.ErrDisconnected) {
			break
		}
		if err != nil {
			return err
		}
		if err := a.print(msg); err != nil {
			return err
		}
		if a.cfg.Echo {
			if err := sess.Send(msg); err != nil && !errors.Is(err, session.ErrNotRunning) {
				a.log.Warn().Err(err).Msg("echo failed")
			}
		}
	}

	if err := sess.LastError(); err != nil {
		return err
	}
	a.log.Info().Str("session", sess.Name()).Msg("session ended")
	return nil
}

// disconnect is best-effort; a teardown error is logged, not returned.
func (a *app) disconnect(sess admin.Target) {
	if err := sess.Disconnect(); err != nil {
		a.log.Warn().Err(err).Str("session", sess.Name()).Msg("disconnect failed")
	}
}

func (a *app) establish(ctx context.Context, sess *session.Session[message]) error {
	opts := []session.ConnectOption{session.WithLifetime(ctx)}
	if a.cfg.Mode == config.ModeAccept {
		// waiting for a peer is bounded only by ctx
		opts = append(opts, session.WithTimeout(0))
		return sess.Accept(ctx, a.cfg.Address, opts...)
	}
	return sess.ConnectRetry(ctx, a.cfg.Address, a.cfg.ConnectAttempts, opts...)
}

// pumpStdin sends each non-blank stdin line as one message. End of input only
// stops sending; the session keeps receiving until the peer or ctx ends it.
func (a *app) pumpStdin(sess *session.Session[message]) {
	sc := bufio.NewScanner(a.in)
	sc.Buffer(make([]byte, 64*1024), jsonl.DefaultMaxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			a.log.Warn().Str("line", string(line)).Msg("skipping invalid json")
			continue
		}
		if err := sess.Send(append(message(nil), line...)); err != nil {
			a.log.Warn().Err(err).Msg("send failed")
			return
		}
	}
	if err := sc.Err(); err != nil {
		a.log.Warn().Err(err).Msg("stdin read failed")
		return
	}
	a.log.Debug().Msg("stdin closed")
}

func (a *app) print(msg message) error {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if _, err := a.out.Write(msg); err != nil {
		return err
	}
	_, err := a.out.Write([]byte{'\n'})
	return err
}
