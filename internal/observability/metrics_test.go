package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/danmuck/monproto/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSessionObserverTracksLifecycle(t *testing.T) {
	testlog.Start(t)
	m := NewMetrics(prometheus.NewRegistry())
	obs := m.SessionObserver()

	obs.StateChanged("qmp", session.StateIdle, session.StateConnecting)
	obs.ConnectAttempt("qmp", "connect", nil)
	obs.StateChanged("qmp", session.StateConnecting, session.StateRunning)
	obs.MessageSent("qmp")
	obs.MessageReceived("qmp")
	obs.MessageReceived("qmp")
	obs.Teardown("qmp", "reader_error", errors.New("reset"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionState.WithLabelValues("qmp", "running")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.sessionState.WithLabelValues("qmp", "connecting")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues("qmp", "connect", "true")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("qmp", "in")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("qmp", "out")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.teardowns.WithLabelValues("qmp", "reader_error", "true")))
}

func TestRequestMiddlewareRecordsRouteTemplate(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	m := NewMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(RequestLogger(zerolog.Nop()), m.RequestMiddleware("admin"))
	r.GET("/sessions/:name", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/qmp", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("admin", "GET", "/sessions/:name", "204")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("admin", "GET", "unmatched", "404")))
}

func TestDefaultMetricsRegisterOnce(t *testing.T) {
	testlog.Start(t)
	a := Default()
	b := Default()
	require.Same(t, a, b)
	a.RecordHTTPRequest("admin", "GET", "/health", 200, 12*time.Millisecond)
}

func TestRequestIDPropagatesOrAssigns(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(requestIDKey)) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
	require.Equal(t, "abc-123", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assigned := rec.Header().Get(HeaderRequestID)
	require.Len(t, assigned, 36)
	require.Equal(t, assigned, rec.Body.String())
}
