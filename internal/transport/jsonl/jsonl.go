// Package jsonl carries one JSON document per line over a stream connection,
// the framing used by JSON monitor protocols.
package jsonl

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
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/transport"
)

const DefaultMaxLine = 1 << 20

var (
	ErrLineTooLong = errors.New("jsonl: line too long")
	ErrDecode      = errors.New("jsonl: decode")
)

type Options struct {
	MaxLine      int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OptionsFrom takes the per-operation timeouts from a session config.
func OptionsFrom(cfg session.Config) Options {
	return Options{
		MaxLine:      DefaultMaxLine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Transport reads and writes newline-delimited JSON values of type M.
// One reader and one writer may use it concurrently.
type Transport[M any] struct {
	conn net.Conn
	br   *bufio.Reader
	opts Options

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func New[M any](conn net.Conn, opts Options) *Transport[M] {
	if opts.MaxLine <= 0 {
		opts.MaxLine = DefaultMaxLine
	}
	return &Transport[M]{
		conn: conn,
		br:   bufio.NewReaderSize(conn, opts.MaxLine),
		opts: opts,
	}
}

// NewConnector returns a session.Connector speaking JSON lines over n.
func NewConnector[M any](n *transport.NetConnector) *transport.StreamConnector[M] {
	opts := OptionsFrom(n.Config())
	return transport.NewStreamConnector[M](n, func(conn net.Conn) session.Transport[M] {
		return New[M](conn, opts)
	})
}

// ReadMessage skips blank lines. A stream that ends between lines yields io.EOF;
// one that ends mid-line yields io.ErrUnexpectedEOF.
func (t *Transport[M]) ReadMessage(ctx context.Context) (M, error) {
	var zero M
	release, err := transport.BindDeadline(ctx, t.opts.ReadTimeout, t.conn.SetReadDeadline)
	if err != nil {
		return zero, err
	}
	defer release()

	for {
		line, err := t.br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			return zero, fmt.Errorf("%w: more than %d bytes", ErrLineTooLong, t.opts.MaxLine)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(line)) == 0 {
					return zero, io.EOF
				}
				return zero, io.ErrUnexpectedEOF
			}
			return zero, transport.ContextError(ctx, err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var msg M
		if err := json.Unmarshal(line, &msg); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return msg, nil
	}
}

func (t *Transport[M]) WriteMessage(ctx context.Context, msg M) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("jsonl: encode: %w", err)
	}
	data = append(data, '\n')

	t.wmu.Lock()
	defer t.wmu.Unlock()
	release, err := transport.BindDeadline(ctx, t.opts.WriteTimeout, t.conn.SetWriteDeadline)
	if err != nil {
		return err
	}
	defer release()
	_, err = t.conn.Write(data)
	return transport.ContextError(ctx, err)
}

func (t *Transport[M]) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
