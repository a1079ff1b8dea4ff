// Package query implements the TCP control channel: one JSON request per
// connection, one JSON response, then close. It resolves a backend
// through the orchestrator and Backend Selector, mints a token, and
// pre-installs a session for the connecting client's IP.
package query

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/selector"
	"github.com/nitecon/udp-director/internal/session"
	"github.com/nitecon/udp-director/internal/targetresolve"
	"github.com/nitecon/udp-director/internal/tokencache"
)

const maxRequestBytes = 4096

// request is the union of every shape the query channel accepts,
// discriminated by Type.
type request struct {
	Type          string            `json:"type"`
	ResourceType  string            `json:"resourceType"`
	Namespace     string            `json:"namespace"`
	StatusQuery   *statusQueryDTO   `json:"statusQuery,omitempty"`
	LabelSelector map[string]string `json:"labelSelector,omitempty"`
	Token         string            `json:"token,omitempty"`
}

type statusQueryDTO struct {
	JSONPath       string   `json:"jsonPath"`
	ExpectedValues []string `json:"expectedValues"`
}

type response struct {
	Token   string         `json:"token,omitempty"`
	Address string         `json:"address,omitempty"`
	Ports   map[string]int `json:"ports,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Responder serves the query channel.
type Responder struct {
	port     int
	loader   *config.Loader
	orch     orchestrator.Client
	tokens   *tokencache.Cache
	sessions *session.Table
	counts   *selector.Counts
	limiter  *ipRateLimiter
}

// New constructs a Responder. loader supplies the live configuration (so
// resource mappings and load-balancing strategy pick up hot reloads).
func New(port int, loader *config.Loader, orch orchestrator.Client, tokens *tokencache.Cache, sessions *session.Table, counts *selector.Counts) *Responder {
	limit := loader.GetConfig().QueryRateLimit
	return &Responder{
		port:     port,
		loader:   loader,
		orch:     orch,
		tokens:   tokens,
		sessions: sessions,
		counts:   counts,
		limiter:  newIPRateLimiter(limit.RequestsPerMinute, limit.Burst, limit.MaxTrackedIPs),
	}
}

// Run binds the query listener and accepts connections until ctxDone is
// closed. A bind failure is returned to the caller as fatal for this
// listener; it never affects other listeners.
func (r *Responder) Run(ctxDone <-chan struct{}) error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(r.port))
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeBindFailure, "failed to bind query listener on port %d", r.port)
	}

	log.Info().Int("port", r.port).Msg("Query responder listening")

	go r.limiter.runCleanup(ctxDone, 5*time.Minute)

	go func() {
		<-ctxDone
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctxDone:
				return nil
			default:
			}
			log.Error().Err(err).Msg("Query listener accept failed")
			continue
		}
		go r.handleConnection(conn)
	}
}

func (r *Responder) handleConnection(conn net.Conn) {
	defer conn.Close()

	peerIP, err := peerAddr(conn)
	if err != nil {
		log.Warn().Err(err).Msg("Query connection has no usable peer address")
		return
	}

	if !r.limiter.allow(peerIP) {
		log.Warn().Str("peer_ip", peerIP).Msg("Query request rate limited")
		metrics.QueryErrors.WithLabelValues("rateLimited").Inc()
		writeResponse(conn, response{Error: "Too many requests"})
		return
	}

	limited := io.LimitReader(conn, maxRequestBytes)
	data, err := io.ReadAll(bufio.NewReader(limited))
	if err != nil || len(data) == 0 {
		return
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		writeResponse(conn, response{Error: "Invalid JSON: " + err.Error()})
		return
	}

	log.Debug().Str("type", req.Type).Str("peer_ip", peerIP).Msg("Received query request")

	var resp response
	switch req.Type {
	case "sessionReset":
		resp = r.processSessionReset(req, peerIP)
	case "query":
		resp = r.processQuery(req, peerIP)
	default:
		resp = response{Error: "Unknown request type: " + req.Type}
	}

	if resp.Error != "" {
		kind := req.Type
		if kind == "" {
			kind = "unknown"
		}
		metrics.QueryErrors.WithLabelValues(kind).Inc()
	}

	writeResponse(conn, resp)
}

func (r *Responder) processQuery(req request, peerIP string) response {
	cfg := r.loader.GetConfig()

	mapping, ok := cfg.ResourceQueryMapping[req.ResourceType]
	if !ok {
		return response{Error: "Unknown resource type: " + req.ResourceType}
	}

	var statusQuery *config.StatusQueryConfig
	if req.StatusQuery != nil {
		statusQuery = &config.StatusQueryConfig{
			JSONPath:       req.StatusQuery.JSONPath,
			ExpectedValues: req.StatusQuery.ExpectedValues,
		}
	}

	candidates, err := r.orch.Query(context.Background(), req.Namespace, mapping, req.LabelSelector, statusQuery)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNoMatchingResources) {
			return response{Error: "No matching resources found"}
		}
		return response{Error: "Failed to query resources: " + err.Error()}
	}

	strat, err := selector.New(cfg.LoadBalancing, r.counts)
	if err != nil {
		return response{Error: err.Error()}
	}

	chosen, err := strat.Select(candidates, mapping)
	if err != nil {
		return response{Error: err.Error()}
	}

	resolved, err := targetresolve.Resolve(chosen, mapping, cfg.DataPorts)
	if err != nil {
		return response{Error: err.Error()}
	}

	token := r.tokens.Mint(resolved.Target)
	r.sessions.Upsert(peerIP, resolved.Target)

	log.Info().Str("resource", chosen.Name()).Str("backend_ip", resolved.Target.BackendIP).Msg("Query resolved, token minted")

	resp := response{Token: token}
	if resolved.MultiPort {
		resp.Address = resolved.Address
		resp.Ports = resolved.Ports
	}
	return resp
}

func (r *Responder) processSessionReset(req request, peerIP string) response {
	target, ok := r.tokens.Lookup(req.Token)
	if !ok {
		return response{Error: "Invalid or expired token"}
	}

	r.sessions.Upsert(peerIP, target)

	return response{Token: req.Token}
}

func writeResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal query response")
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Debug().Err(err).Msg("Failed to write query response")
	}
}

func peerAddr(conn net.Conn) (string, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
