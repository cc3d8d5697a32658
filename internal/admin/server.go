// Package admin exposes session status and control over HTTP.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/monproto/internal/auth"
	"github.com/danmuck/monproto/internal/logging"
	"github.com/danmuck/monproto/internal/observability"
	"github.com/danmuck/monproto/internal/protocol/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Target is the part of a session the admin surface drives.
type Target interface {
	Name() string
	Snapshot() session.Status
	Disconnect() error
}

type Config struct {
	Addr        string
	CORSOrigins []string
	// Token guards mutating routes; with no token they always answer 401.
	// A comma-separated list accepts any of its entries.
	Token string
}

type Server struct {
	cfg       Config
	router    *gin.Engine
	validator auth.Validator
	log       zerolog.Logger
	started   time.Time

	mu      sync.RWMutex
	targets map[string]Target
}

// New builds the router. Metrics may be nil; gatherer defaults to the
// process-wide prometheus registry.
func New(cfg Config, metrics *observability.Metrics, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	log := logging.Component("admin")
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log))
	if metrics != nil {
		r.Use(metrics.RequestMiddleware("admin"))
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:       cfg,
		router:    r,
		validator: tokenValidator(cfg.Token),
		log:       log,
		started:   time.Now(),
		targets:   make(map[string]Target),
	}
	s.routes(gatherer)
	return s
}

func (s *Server) Register(t Target) {
	s.mu.Lock()
	s.targets[t.Name()] = t
	s.mu.Unlock()
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.started).Round(time.Second).String(),
			"sessions": len(s.snapshots()),
		})
	})
	s.router.GET("/ready", func(c *gin.Context) {
		states := make(map[string]string)
		ready := true
		for _, st := range s.snapshots() {
			states[st.Name] = st.State
			if st.State != session.StateRunning.String() {
				ready = false
			}
		}
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "sessions": states})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.router.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": s.snapshots()})
	})
	s.router.GET("/sessions/:name", func(c *gin.Context) {
		t, ok := s.target(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		c.JSON(http.StatusOK, t.Snapshot())
	})
	s.router.POST("/sessions/:name/disconnect", s.requireToken, func(c *gin.Context) {
		t, ok := s.target(c.Param("name"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		s.log.Info().Str("session", t.Name()).Str("client_ip", c.ClientIP()).Msg("disconnect requested")
		body := gin.H{"status": "ok"}
		if err := t.Disconnect(); err != nil {
			body["last_error"] = err.Error()
		}
		body["session"] = t.Snapshot()
		c.JSON(http.StatusOK, body)
	})
}

func (s *Server) requireToken(c *gin.Context) {
	token, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if err := s.validator.Validate(token); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

func (s *Server) target(name string) (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[name]
	return t, ok
}

func (s *Server) snapshots() []session.Status {
	s.mu.RLock()
	out := make([]session.Status, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, t.Snapshot())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Serve listens on cfg.Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info().Str("address", ln.Addr().String()).Msg("admin listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func tokenValidator(raw string) auth.Validator {
	if !strings.Contains(raw, ",") {
		return auth.StaticToken{Token: strings.TrimSpace(raw)}
	}
	var set auth.TokenSet
	for _, tok := range strings.Split(raw, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			set = append(set, tok)
		}
	}
	return set
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
