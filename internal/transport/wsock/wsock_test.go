package wsock

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/testutil/testlog"
	"github.com/danmuck/monproto/internal/transport"
	"github.com/stretchr/testify/require"
)

type status struct {
	Running bool   `json:"running"`
	Status  string `json:"status"`
}

func acceptingSession(t *testing.T, cfg session.Config) (*session.Session[status], string, <-chan error) {
	t.Helper()
	bound := make(chan string, 1)
	n := transport.NewNetConnector(cfg)
	n.OnListen = func(a net.Addr) { bound <- a.String() }
	s := session.New[status](NewConnector[status](n), session.Options{Name: "ws-server", Config: cfg})
	t.Cleanup(func() { _ = s.Disconnect() })

	accepted := make(chan error, 1)
	go func() { accepted <- s.Accept(context.Background(), "127.0.0.1:0") }()
	select {
	case addr := <-bound:
		return s, addr, accepted
	case <-time.After(2 * time.Second):
		t.Fatalf("websocket listener never bound")
	}
	return nil, "", nil
}

func TestSessionsOverWebsocket(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	server, addr, accepted := acceptingSession(t, cfg)

	client := session.New[status](NewConnector[status](transport.NewNetConnector(cfg)), session.Options{Name: "ws-client", Config: cfg})
	defer client.Disconnect()
	ctx := context.Background()
	require.NoError(t, client.Connect(ctx, addr))
	require.NoError(t, <-accepted)

	require.NoError(t, server.Send(status{Running: true, Status: "running"}))
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := client.Receive(rctx)
	require.NoError(t, err)
	require.Equal(t, status{Running: true, Status: "running"}, got)

	require.NoError(t, server.Disconnect())
	require.NoError(t, client.WaitState(rctx, session.StateIdle))
	require.NoError(t, client.LastError(), "close frame should end the stream cleanly")
}

func TestDialFullURL(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	_, addr, accepted := acceptingSession(t, cfg)

	client := session.New[status](NewConnector[status](transport.NewNetConnector(cfg)), session.Options{Config: cfg})
	defer client.Disconnect()
	require.NoError(t, client.Connect(context.Background(), "ws://"+addr+DefaultPath))
	require.NoError(t, <-accepted)
}

func TestAcceptServesOnePeer(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	_, addr, accepted := acceptingSession(t, cfg)

	resp, err := http.Get("http://" + addr + "/elsewhere")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	client := session.New[status](NewConnector[status](transport.NewNetConnector(cfg)), session.Options{Config: cfg})
	defer client.Disconnect()
	require.NoError(t, client.Connect(context.Background(), addr))
	require.NoError(t, <-accepted)
}

func TestDialURL(t *testing.T) {
	testlog.Start(t)
	c := &Connector[status]{Path: "/qmp"}
	url, host := c.dialURL("127.0.0.1:9", false)
	require.Equal(t, "ws://127.0.0.1:9/qmp", url)
	require.Equal(t, "127.0.0.1:9", host)

	url, host = c.dialURL("wss://mon.local:443/x", true)
	require.Equal(t, "wss://mon.local:443/x", url)
	require.Equal(t, "mon.local:443", host)
}
