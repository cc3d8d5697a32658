package session

// requestTeardown is the entry point for tasks and lifetime hooks.
func (s *Session[M]) requestTeardown(c *cycle[M], cause string) {
	s.mu.Lock()
	s.scheduleTeardownLocked(c, cause)
	s.mu.Unlock()
}

// scheduleTeardownLocked starts teardown of c at most once and returns the
// channel closed when it has finished.
func (s *Session[M]) scheduleTeardownLocked(c *cycle[M], cause string) <-chan struct{} {
	if s.cycle != c || c.tearingDown {
		return c.done
	}
	c.tearingDown = true
	c.cause = cause
	s.setStateLocked(StateDisconnecting)
	go s.teardown(c)
	return c.done
}

// teardown runs once per cycle. Every step runs regardless of earlier failures.
func (s *Session[M]) teardown(c *cycle[M]) {
	log := c.log.With().Str("cause", c.cause).Logger()
	log.Debug().Msg("session teardown started")

	if c.stopLife != nil {
		c.stopLife()
	}
	// Cancel before closing so the tasks read the close-induced I/O errors as
	// cancellation rather than as transport failures.
	c.cancel()
	if err := c.transport.Close(); err != nil {
		log.Warn().Err(err).Msg("transport close failed")
	}
	_ = c.group.Wait()

	result := c.terminal()
	if dropped := c.outbox.Clear(); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("discarded unsent messages")
	}

	c.result = result
	s.mu.Lock()
	s.lastErr = result
	s.cycle = nil
	if c.discardInbox && s.inbox == c.inbox {
		s.dropInboxLocked()
	}
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	s.observer.Teardown(s.name, c.cause, result)
	if result != nil {
		log.Warn().Err(result).Msg("session disconnected")
	} else {
		log.Info().Msg("session disconnected")
	}
	close(c.done)
}
