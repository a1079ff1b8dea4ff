// Package proxy implements the Data Proxy: one listener per configured
// data port, routing client traffic to each client's session target and
// establishing a default session for clients that arrive without one.
package proxy

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/selector"
	"github.com/nitecon/udp-director/internal/session"
	"github.com/nitecon/udp-director/internal/targetresolve"
	"github.com/nitecon/udp-director/internal/tokencache"
)

// Proxy owns every data-port listener and the shared state they route
// through: the session table, the token cache (for control-packet
// resets), the backend selector's session counts, and the default
// endpoint cache.
type Proxy struct {
	loader       *config.Loader
	orch         orchestrator.Client
	tokens       *tokencache.Cache
	sessions     *session.Table
	counts       *selector.Counts
	defaultCache *DefaultEndpointCache

	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker
}

// New constructs a Proxy. defaultCache is shared with the Resource
// Monitor so its invalidations are visible here without polling.
func New(loader *config.Loader, orch orchestrator.Client, tokens *tokencache.Cache, sessions *session.Table, counts *selector.Counts, defaultCache *DefaultEndpointCache) *Proxy {
	return &Proxy{
		loader:       loader,
		orch:         orch,
		tokens:       tokens,
		sessions:     sessions,
		counts:       counts,
		defaultCache: defaultCache,
		breakers:     make(map[string]*CircuitBreaker),
	}
}

// breakerFor returns the circuit breaker tracking dial failures to
// backendAddr, creating one on first use.
func (p *Proxy) breakerFor(backendAddr string) *CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()

	cb, ok := p.breakers[backendAddr]
	if !ok {
		cb = NewCircuitBreaker(backendAddr, 5, 30*time.Second, 3)
		p.breakers[backendAddr] = cb
	}
	return cb
}

// Run binds every configured data port and serves until ctx is cancelled.
// A bind failure on one port is logged and that listener is skipped; it
// never prevents the other listeners from starting.
func (p *Proxy) Run(ctx context.Context) {
	cfg := p.loader.GetConfig()

	var wg sync.WaitGroup
	for _, dp := range cfg.DataPorts {
		dp := dp
		switch dp.Protocol {
		case config.ProtocolUDP:
			listener, err := newUDPListener(p, dp)
			if err != nil {
				log.Error().Err(err).Int("port", dp.Port).Str("name", dp.Name).Msg("Failed to bind UDP data listener")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				listener.run(ctx)
			}()
		case config.ProtocolTCP:
			listener, err := newTCPListener(p, dp)
			if err != nil {
				log.Error().Err(err).Int("port", dp.Port).Str("name", dp.Name).Msg("Failed to bind TCP data listener")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				listener.run(ctx)
			}()
		default:
			log.Error().Str("protocol", string(dp.Protocol)).Str("name", dp.Name).Msg("Unknown data port protocol, skipping")
		}
	}

	wg.Wait()
}

// controlPacketMagic returns the decoded magic-byte prefix for UDP reset
// packets, or nil if control-packet mode is disabled.
func (p *Proxy) controlPacketMagic() []byte {
	hexStr := p.loader.GetConfig().ControlPacketMagicHex
	if hexStr == "" {
		return nil
	}
	magic, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil
	}
	return magic
}

// establishDefaultSession resolves the default backend for clientIP and
// installs it as that client's session, for the case where a data-port
// packet or connection arrives with no prior session. It reads the
// default-endpoint cache first; on miss it queries the orchestrator,
// selects a candidate, and populates the cache for subsequent misses.
func (p *Proxy) establishDefaultSession(ctx context.Context, clientIP string) (selector.Target, error) {
	if target, ok := p.defaultCache.Get(); ok {
		p.sessions.Upsert(clientIP, target)
		return target, nil
	}

	cfg := p.loader.GetConfig()
	mapping, ok := cfg.ResourceQueryMapping[cfg.DefaultEndpoint.ResourceType]
	if !ok {
		return selector.Target{}, apperrors.Newf(apperrors.CodeConfigInvalid, "defaultEndpoint.resourceType %q has no resource mapping", cfg.DefaultEndpoint.ResourceType)
	}

	candidates, err := p.orch.Query(ctx, cfg.DefaultEndpoint.Namespace, mapping, cfg.DefaultEndpoint.LabelSelector, cfg.DefaultEndpoint.StatusQuery)
	if err != nil {
		return selector.Target{}, err
	}

	strat, err := selector.New(cfg.LoadBalancing, p.counts)
	if err != nil {
		return selector.Target{}, err
	}

	chosen, err := strat.Select(candidates, mapping)
	if err != nil {
		return selector.Target{}, err
	}

	resolved, err := targetresolve.Resolve(chosen, mapping, cfg.DataPorts)
	if err != nil {
		return selector.Target{}, err
	}

	p.defaultCache.Set(resolved.Target)
	p.sessions.Upsert(clientIP, resolved.Target)

	log.Info().Str("client_ip", clientIP).Str("backend_ip", resolved.Target.BackendIP).Msg("Default session established")

	return resolved.Target, nil
}
