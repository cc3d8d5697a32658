package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "monproto"

var allStates = []session.State{
	session.StateIdle,
	session.StateConnecting,
	session.StateRunning,
	session.StateDisconnecting,
}

// Metrics holds the HTTP and session collectors registered with one registry.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionState    *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	messages        *prometheus.CounterVec
	teardowns       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered with the process-wide prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"server", "method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server", "method", "path", "status"},
		),
		sessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "1 for the current lifecycle state of a session, 0 otherwise.",
			},
			[]string{"session", "state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "transitions_total",
				Help:      "Lifecycle state transitions.",
			},
			[]string{"session", "from", "to"},
		),
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "connect_attempts_total",
				Help:      "Connect and accept attempts by outcome.",
			},
			[]string{"session", "op", "success"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "messages_total",
				Help:      "Messages written to or read from the transport.",
			},
			[]string{"session", "direction"},
		),
		teardowns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "teardowns_total",
				Help:      "Connection teardowns by cause.",
			},
			[]string{"session", "cause", "error"},
		),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.sessionState, m.transitions, m.connectAttempts, m.messages, m.teardowns)
	return m
}

func (m *Metrics) RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

// SessionObserver reports session lifecycle events into m.
func (m *Metrics) SessionObserver() session.Observer {
	return sessionObserver{m: m}
}

type sessionObserver struct {
	m *Metrics
}

func (o sessionObserver) StateChanged(name string, from, to session.State) {
	for _, st := range allStates {
		v := 0.0
		if st == to {
			v = 1
		}
		o.m.sessionState.WithLabelValues(name, st.String()).Set(v)
	}
	o.m.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

func (o sessionObserver) ConnectAttempt(name, op string, err error) {
	o.m.connectAttempts.WithLabelValues(name, op, strconv.FormatBool(err == nil)).Inc()
}

func (o sessionObserver) MessageSent(name string) {
	o.m.messages.WithLabelValues(name, "out").Inc()
}

func (o sessionObserver) MessageReceived(name string) {
	o.m.messages.WithLabelValues(name, "in").Inc()
}

func (o sessionObserver) Teardown(name, cause string, err error) {
	o.m.teardowns.WithLabelValues(name, cause, strconv.FormatBool(err != nil)).Inc()
}
