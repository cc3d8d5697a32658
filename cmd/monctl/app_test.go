package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/monproto/internal/config"
	"github.com/danmuck/monproto/internal/observability"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testApp(cfg config.MonctlConfig, in io.Reader, out io.Writer) *app {
	a := newApp(cfg, in, out)
	reg := prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(reg)
	a.gatherer = reg
	return a
}

func testConfig(mode, transportKind, address string) config.MonctlConfig {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.Transport = transportKind
	cfg.Address = address
	cfg.Session.ConnectTimeout = 2 * time.Second
	cfg.Session.Backoff.Jitter = false
	cfg.Session.Backoff.InitialDelay = 10 * time.Millisecond
	return cfg
}

type runResult struct {
	err error
}

func startEchoServer(t *testing.T, ctx context.Context, transportKind string) (string, <-chan runResult) {
	t.Helper()
	cfg := testConfig(config.ModeAccept, transportKind, "127.0.0.1:0")
	cfg.Name = "echo"
	cfg.Echo = true
	cfg.Token = "secret"

	addrCh := make(chan net.Addr, 1)
	a := testApp(cfg, strings.NewReader(""), io.Discard)
	a.onListen = func(addr net.Addr) { addrCh <- addr }

	done := make(chan runResult, 1)
	go func() { done <- runResult{err: a.run(ctx)} }()

	select {
	case addr := <-addrCh:
		if transportKind == config.TransportWS {
			return "ws://" + addr.String() + "/monitor", done
		}
		return addr.String(), done
	case res := <-done:
		t.Fatalf("server exited before listening: %v", res.err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start listening")
	}
	return "", nil
}

func TestMonctlEchoRoundTrip(t *testing.T) {
	for _, kind := range []string{config.TransportJSONL, config.TransportFramed, config.TransportWS} {
		t.Run(kind, func(t *testing.T) {
			testlog.Start(t)
			serverCtx, stopServer := context.WithCancel(context.Background())
			defer stopServer()
			address, serverDone := startEchoServer(t, serverCtx, kind)

			cfg := testConfig(config.ModeConnect, kind, address)
			cfg.Name = "client"
			cfg.Token = "secret"
			cfg.ConnectAttempts = 3

			stdin, stdinW := io.Pipe()
			defer stdinW.Close()
			out := &lockedBuffer{}
			client := testApp(cfg, stdin, out)

			clientCtx, stopClient := context.WithCancel(context.Background())
			defer stopClient()
			clientDone := make(chan error, 1)
			go func() { clientDone <- client.run(clientCtx) }()

			go func() {
				fmt.Fprintln(stdinW, `{"n":1}`)
				fmt.Fprintln(stdinW, "")
				fmt.Fprintln(stdinW, "not json")
				fmt.Fprintln(stdinW, `{"n":2}`)
			}()

			require.Eventually(t, func() bool {
				return strings.Count(out.String(), "\n") >= 2
			}, 3*time.Second, 10*time.Millisecond)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, 2)
			for i, line := range lines {
				var got map[string]int
				require.NoError(t, json.Unmarshal([]byte(line), &got))
				require.Equal(t, i+1, got["n"])
			}

			stopClient()
			select {
			case err := <-clientDone:
				require.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatal("client did not stop")
			}
			select {
			case res := <-serverDone:
				require.NoError(t, res.err)
			case <-time.After(3 * time.Second):
				t.Fatal("server did not stop after client left")
			}
		})
	}
}

func TestMonctlConnectFailureReportsError(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig(config.ModeConnect, config.TransportJSONL, address)
	cfg.ConnectAttempts = 2
	a := testApp(cfg, strings.NewReader(""), io.Discard)

	err = a.run(context.Background())
	require.Error(t, err)
	var connectErr *session.ConnectError
	require.ErrorAs(t, err, &connectErr)
}

func TestMonctlUnknownTransport(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(config.ModeConnect, "smoke-signal", "127.0.0.1:1")
	a := testApp(cfg, strings.NewReader(""), io.Discard)
	require.ErrorContains(t, a.run(context.Background()), "unknown transport")
}

func TestMonctlAdminServesSessionStatus(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(config.ModeAccept, config.TransportJSONL, "127.0.0.1:0")
	cfg.Name = "watched"
	cfg.Admin.Addr = "127.0.0.1:0"

	adminCh := make(chan net.Addr, 1)
	a := testApp(cfg, strings.NewReader(""), io.Discard)
	a.onAdmin = func(addr net.Addr) { adminCh <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	var adminAddr net.Addr
	select {
	case adminAddr = <-adminCh:
	case err := <-done:
		t.Fatalf("app exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("admin server did not start")
	}

	base := "http://" + adminAddr.String()
	var status session.Status
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/sessions/watched")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		return json.NewDecoder(resp.Body).Decode(&status) == nil
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, "watched", status.Name)

	resp, err := http.Get(base + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

type failingTarget struct{ err error }

func (f failingTarget) Name() string             { return "broken" }
func (f failingTarget) Snapshot() session.Status { return session.Status{Name: "broken"} }
func (f failingTarget) Disconnect() error        { return f.err }

func TestMonctlDisconnectErrorIsLogged(t *testing.T) {
	testlog.Start(t)
	a := testApp(config.Default(), strings.NewReader(""), io.Discard)
	logs := &lockedBuffer{}
	a.log = zerolog.New(logs)

	a.disconnect(failingTarget{err: errors.New("reader panicked")})
	out := logs.String()
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, "disconnect failed")
	require.Contains(t, out, "reader panicked")
	require.Contains(t, out, `"session":"broken"`)

	logs = &lockedBuffer{}
	a.log = zerolog.New(logs)
	a.disconnect(failingTarget{})
	require.Empty(t, logs.String())
}
