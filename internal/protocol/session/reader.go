package session

import (
	"context"
	"errors"
	"io"
)

// readLoop publishes decoded messages to the cycle inbox until the transport
// fails, ends, or ctx is cancelled. It owns the inbox and closes it on exit.
func (s *Session[M]) readLoop(ctx context.Context, c *cycle[M]) error {
	defer close(c.inbox)
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := c.transport.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.log.Debug().Msg("session peer closed stream")
				s.requestTeardown(c, causeEndOfStream)
				return nil
			}
			terr := c.record(OriginReader, err)
			c.log.Warn().Err(err).Msg("session read failed")
			s.requestTeardown(c, causeReaderError)
			return terr
		}
		s.observer.MessageReceived(s.name)

		select {
		case c.inbox <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}
