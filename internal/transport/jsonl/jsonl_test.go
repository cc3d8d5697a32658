package jsonl

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/testutil/testlog"
	"github.com/danmuck/monproto/internal/transport"
	"github.com/stretchr/testify/require"
)

type event struct {
	Event string `json:"event"`
	Seq   int    `json:"seq,omitempty"`
}

// pipe returns a transport reading what is written to the returned conn.
func pipe(t *testing.T, opts Options) (*Transport[event], net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return New[event](a, opts), b
}

func TestReadSkipsBlankLinesAndEndsCleanly(t *testing.T) {
	testlog.Start(t)
	tr, peer := pipe(t, Options{})
	go func() {
		_, _ = peer.Write([]byte("\n{\"event\":\"STOP\"}\r\n\n{\"event\":\"RESUME\",\"seq\":2}\n"))
		_ = peer.Close()
	}()

	ctx := context.Background()
	got, err := tr.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, event{Event: "STOP"}, got)
	got, err = tr.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, event{Event: "RESUME", Seq: 2}, got)
	_, err = tr.ReadMessage(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadPartialLineIsUnexpectedEOF(t *testing.T) {
	testlog.Start(t)
	tr, peer := pipe(t, Options{})
	go func() {
		_, _ = peer.Write([]byte(`{"event":"ST`))
		_ = peer.Close()
	}()
	_, err := tr.ReadMessage(context.Background())
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadRejectsOversizedAndMalformedLines(t *testing.T) {
	testlog.Start(t)
	tr, peer := pipe(t, Options{MaxLine: 32})
	go func() { _, _ = peer.Write([]byte(strings.Repeat("x", 64) + "\n")) }()
	_, err := tr.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrLineTooLong)

	tr2, peer2 := pipe(t, Options{})
	go func() { _, _ = peer2.Write([]byte("not json\n")) }()
	_, err = tr2.ReadMessage(context.Background())
	require.ErrorIs(t, err, ErrDecode)
}

func TestReadHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	tr, _ := pipe(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := tr.ReadMessage(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteEmitsOneLinePerMessage(t *testing.T) {
	testlog.Start(t)
	tr, peer := pipe(t, Options{})
	go func() {
		_ = tr.WriteMessage(context.Background(), event{Event: "SHUTDOWN", Seq: 7})
	}()
	buf := make([]byte, 64)
	n, err := peer.Read(buf)
	require.NoError(t, err)
	line := string(buf[:n])
	require.True(t, strings.HasSuffix(line, "\n"), "line=%q", line)

	var got event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(line)), &got))
	require.Equal(t, event{Event: "SHUTDOWN", Seq: 7}, got)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestSessionsOverJSONLines(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	bound := make(chan string, 1)
	serverNet := transport.NewNetConnector(cfg)
	serverNet.OnListen = func(a net.Addr) { bound <- a.String() }

	server := session.New[event](NewConnector[event](serverNet), session.Options{Name: "server", Config: cfg})
	client := session.New[event](NewConnector[event](transport.NewNetConnector(cfg)), session.Options{Name: "client", Config: cfg})
	defer server.Disconnect()
	defer client.Disconnect()

	ctx := context.Background()
	accepted := make(chan error, 1)
	go func() { accepted <- server.Accept(ctx, "127.0.0.1:0", session.WithTimeout(5*time.Second)) }()
	addr := <-bound
	require.NoError(t, client.Connect(ctx, addr))
	require.NoError(t, <-accepted)

	for i := 1; i <= 3; i++ {
		require.NoError(t, client.Send(event{Event: "PING", Seq: i}))
	}
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 1; i <= 3; i++ {
		got, err := server.Receive(rctx)
		require.NoError(t, err)
		require.Equal(t, i, got.Seq)
	}

	require.NoError(t, client.Disconnect())
	wctx, wcancel := context.WithTimeout(ctx, 2*time.Second)
	defer wcancel()
	require.NoError(t, server.WaitState(wctx, session.StateIdle))
	require.NoError(t, server.LastError(), "peer close should end the stream cleanly")
}
