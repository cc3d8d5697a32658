package session

import "context"

// writeLoop drains the outbox into the transport in FIFO order. A message popped
// but not yet written when ctx ends is dropped.
func (s *Session[M]) writeLoop(ctx context.Context, c *cycle[M]) error {
	for {
		msg, err := c.outbox.Pop(ctx)
		if err != nil {
			return nil
		}
		if err := c.transport.WriteMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			terr := c.record(OriginWriter, err)
			c.log.Warn().Err(err).Msg("session write failed")
			s.requestTeardown(c, causeWriterError)
			return terr
		}
		s.observer.MessageSent(s.name)
	}
}
