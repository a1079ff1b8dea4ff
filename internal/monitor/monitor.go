// Package monitor implements the Resource Monitor: a periodic loop that
// re-queries the default-endpoint candidate set and invalidates the
// Data Proxy's default-endpoint cache whenever the chosen candidate's
// description changes.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/metrics"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/proxy"
	"github.com/nitecon/udp-director/internal/session"
)

// Monitor runs the periodic default-endpoint check and logs active
// session counts.
type Monitor struct {
	loader       *config.Loader
	orch         orchestrator.Client
	sessions     *session.Table
	defaultCache *proxy.DefaultEndpointCache

	mu          sync.Mutex
	lastDescrip *string
}

// New constructs a Monitor sharing defaultCache with the Data Proxy.
func New(loader *config.Loader, orch orchestrator.Client, sessions *session.Table, defaultCache *proxy.DefaultEndpointCache) *Monitor {
	return &Monitor{
		loader:       loader,
		orch:         orch,
		sessions:     sessions,
		defaultCache: defaultCache,
	}
}

// Run ticks at the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := time.Duration(m.loader.GetConfig().ResourceMonitor.CheckIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}

	log.Info().Dur("interval", interval).Msg("Resource monitor started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkDefaultEndpoint(ctx)
			m.logActiveSessions()
		}
	}
}

func (m *Monitor) checkDefaultEndpoint(ctx context.Context) {
	cfg := m.loader.GetConfig()

	mapping, ok := cfg.ResourceQueryMapping[cfg.DefaultEndpoint.ResourceType]
	if !ok {
		log.Warn().Str("resource_type", cfg.DefaultEndpoint.ResourceType).Msg("Default endpoint resource type not found in mapping")
		return
	}

	candidates, err := m.orch.Query(ctx, cfg.DefaultEndpoint.Namespace, mapping, cfg.DefaultEndpoint.LabelSelector, cfg.DefaultEndpoint.StatusQuery)
	var current *string
	if err == nil && len(candidates) > 0 {
		desc := describeCandidate(candidates[0], mapping)
		current = &desc
	}

	m.mu.Lock()
	previous := m.lastDescrip
	m.lastDescrip = current
	m.mu.Unlock()

	switch {
	case previous == nil && current == nil:
		log.Debug().Msg("Default endpoint check: still no matching resources")
	case previous != nil && current == nil:
		log.Warn().Str("previous", *previous).Msg("Default endpoint lost, invalidating cache")
		m.defaultCache.Invalidate()
		metrics.DefaultEndpointInvalidations.Inc()
	case previous == nil && current != nil:
		log.Info().Str("current", *current).Msg("Default endpoint found, invalidating cache to force refresh")
		m.defaultCache.Invalidate()
		metrics.DefaultEndpointInvalidations.Inc()
	case *previous != *current:
		log.Info().Str("previous", *previous).Str("current", *current).Msg("Default endpoint changed, invalidating cache")
		m.defaultCache.Invalidate()
		metrics.DefaultEndpointInvalidations.Inc()
	default:
		log.Debug().Str("current", *current).Msg("Default endpoint unchanged")
	}
}

func (m *Monitor) logActiveSessions() {
	count := m.sessions.Count()
	metrics.SessionsActive.Set(float64(count))
	if count > 0 {
		log.Debug().Int("count", count).Msg("Active sessions")
	}
}

// describeCandidate renders a stable string for change detection: the
// resource name, plus address:port when extractable.
func describeCandidate(candidate orchestrator.Resource, mapping config.ResourceMapping) string {
	name := candidate.Name()
	if name == "" {
		name = "unknown"
	}

	address, err := candidate.ExtractAddress(mapping.AddressPath, mapping.AddressType)
	if err != nil {
		return name
	}

	port, err := candidate.ExtractPort(mapping.PortPath, mapping.PortName)
	if err != nil {
		return name
	}

	return fmt.Sprintf("%s (%s:%d)", name, address, port)
}
