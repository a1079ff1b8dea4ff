// Package metrics exposes the director's observability boundary: a
// Prometheus text-format scrape endpoint and a health probe, served over
// HTTP independently of the query and data-plane protocols.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// TokensMinted counts every token the Token Cache has issued.
	TokensMinted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udp_director_tokens_minted_total",
		Help: "Total number of tokens minted by the token cache.",
	})

	// SessionsActive reports the current size of the session table.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "udp_director_sessions_active",
		Help: "Number of sessions currently held in the session table.",
	})

	// SessionResets counts upserts that replaced an existing session.
	SessionResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udp_director_session_resets_total",
		Help: "Total number of session resets applied.",
	})

	// QueryErrors counts query-channel requests that resolved to an
	// error response, labeled by request type ("rateLimited" for
	// connections refused by the per-IP limiter).
	QueryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udp_director_query_errors_total",
		Help: "Total number of query channel requests that returned an error.",
	}, []string{"kind"})

	// DefaultEndpointInvalidations counts Resource Monitor-triggered
	// cache invalidations.
	DefaultEndpointInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "udp_director_default_endpoint_invalidations_total",
		Help: "Total number of times the resource monitor invalidated the default endpoint cache.",
	})

	// PacketsForwarded counts UDP datagrams forwarded in each direction.
	PacketsForwarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "udp_director_packets_forwarded_total",
		Help: "Total number of UDP datagrams forwarded, labeled by direction.",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		TokensMinted,
		SessionsActive,
		SessionResets,
		QueryErrors,
		DefaultEndpointInvalidations,
		PacketsForwarded,
	)
}

// Server serves /metrics and /healthz on a dedicated HTTP port.
type Server struct {
	port      int
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer constructs a metrics server bound to port; it does not start
// listening until Run is called.
func NewServer(port int) *Server {
	return &Server{port: port, startedAt: time.Now()}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("Metrics server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptimeSeconds":  int(time.Since(s.startedAt).Seconds()),
	})
}
