// Package session owns the connection lifecycle of one monitor-protocol peer.
//
// Ownership boundary:
// - lifecycle state machine (idle, connecting, running, disconnecting)
// - reader/writer goroutines and the queues between them and callers
// - the single teardown routine run per connection cycle
// - retry/backoff and transport security policy shared with transports
//
// Message types are opaque here. Encoding, framing and addressing belong to the
// Transport and Connector implementations under internal/transport.
package session
