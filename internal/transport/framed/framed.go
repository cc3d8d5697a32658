// Package framed carries messages as binary frames with an optional
// per-frame auth token.
package framed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/monproto/internal/auth"
	"github.com/danmuck/monproto/internal/protocol/frame"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/protocol/tlv"
	"github.com/danmuck/monproto/internal/transport"
)

// Codec maps messages to frame payloads and back.
type Codec[M any] interface {
	Encode(msg M) (msgType uint32, payload []byte, err error)
	Decode(h frame.Header, payload []byte) (M, error)
}

// JSONCodec encodes messages as JSON payloads under a single message type.
type JSONCodec[M any] struct {
	MessageType uint32
}

func (c JSONCodec[M]) Encode(msg M) (uint32, []byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, err
	}
	return c.MessageType, payload, nil
}

func (c JSONCodec[M]) Decode(h frame.Header, payload []byte) (M, error) {
	var msg M
	if c.MessageType != 0 && h.MessageType != c.MessageType {
		return msg, fmt.Errorf("framed: unexpected message type %d", h.MessageType)
	}
	err := json.Unmarshal(payload, &msg)
	return msg, err
}

// TLVCodec carries tlv records. A zero MessageType accepts any incoming type.
type TLVCodec struct {
	MessageType uint32
}

func (c TLVCodec) Encode(rec tlv.Record) (uint32, []byte, error) {
	payload, err := rec.Marshal()
	if err != nil {
		return 0, nil, err
	}
	return c.MessageType, payload, nil
}

func (c TLVCodec) Decode(h frame.Header, payload []byte) (tlv.Record, error) {
	if c.MessageType != 0 && h.MessageType != c.MessageType {
		return nil, fmt.Errorf("framed: unexpected message type %d", h.MessageType)
	}
	return tlv.Unmarshal(payload)
}

type Options struct {
	Limits       frame.Limits
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Token is attached to every outgoing frame as auth bytes.
	Token string
	// Validator, when set, checks the auth bytes of every incoming frame.
	Validator auth.Validator
}

func OptionsFrom(cfg session.Config) Options {
	return Options{
		Limits:       frame.DefaultLimits(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

type Transport[M any] struct {
	conn   net.Conn
	br     *bufio.Reader
	codec  Codec[M]
	opts   Options
	nextID atomic.Uint64

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func New[M any](conn net.Conn, codec Codec[M], opts Options) *Transport[M] {
	if opts.Limits == (frame.Limits{}) {
		opts.Limits = frame.DefaultLimits()
	}
	return &Transport[M]{
		conn:  conn,
		br:    bufio.NewReader(conn),
		codec: codec,
		opts:  opts,
	}
}

func NewConnector[M any](n *transport.NetConnector, codec Codec[M], opts Options) *transport.StreamConnector[M] {
	return transport.NewStreamConnector[M](n, func(conn net.Conn) session.Transport[M] {
		return New[M](conn, codec, opts)
	})
}

func (t *Transport[M]) ReadMessage(ctx context.Context) (M, error) {
	var zero M
	release, err := transport.BindDeadline(ctx, t.opts.ReadTimeout, t.conn.SetReadDeadline)
	if err != nil {
		return zero, err
	}
	defer release()

	fr, err := frame.ReadFrame(t.br, t.opts.Limits)
	if err != nil {
		return zero, transport.ContextError(ctx, err)
	}
	if t.opts.Validator != nil {
		if err := t.opts.Validator.Validate(string(fr.Auth)); err != nil {
			return zero, fmt.Errorf("framed: frame %d: %w", fr.Header.MessageID, err)
		}
	}
	if fr.Header.Flags&frame.FlagIsError != 0 {
		return zero, fmt.Errorf("framed: peer error frame: %s", fr.Payload)
	}
	msg, err := t.codec.Decode(fr.Header, fr.Payload)
	if err != nil {
		return zero, fmt.Errorf("framed: decode: %w", err)
	}
	return msg, nil
}

func (t *Transport[M]) WriteMessage(ctx context.Context, msg M) error {
	msgType, payload, err := t.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("framed: encode: %w", err)
	}
	fr := frame.Frame{
		Header:  frame.Header{MessageID: t.nextID.Add(1), MessageType: msgType},
		Payload: payload,
	}
	if t.opts.Token != "" {
		fr.Auth = []byte(t.opts.Token)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	release, err := transport.BindDeadline(ctx, t.opts.WriteTimeout, t.conn.SetWriteDeadline)
	if err != nil {
		return err
	}
	defer release()
	return transport.ContextError(ctx, frame.WriteFrame(t.conn, fr, t.opts.Limits))
}

func (t *Transport[M]) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// IsUnauthorized reports whether err came from a rejected frame token.
func IsUnauthorized(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized)
}
