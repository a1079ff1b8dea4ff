// Package selector implements the load-balancing policy across backends
// discovered by the orchestrator adapter, plus the per-address session
// count bookkeeping the strategies read from.
package selector

import (
	"sort"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/orchestrator"
)

// PortKey identifies one (proxyPort, protocol) pair a backend target
// advertises.
type PortKey struct {
	Port     int
	Protocol config.Protocol
}

// Target is a resolved backend: an address plus every proxy-port mapping
// it was selected to serve.
type Target struct {
	BackendIP string
	PortMap   map[PortKey]int
}

// Strategy chooses one candidate from a non-empty ordered list.
type Strategy interface {
	Select(candidates []orchestrator.Resource, mapping config.ResourceMapping) (orchestrator.Resource, error)
}

// New constructs the configured Strategy backed by counts.
func New(cfg config.LoadBalancingConfig, counts *Counts) (Strategy, error) {
	switch cfg.Strategy {
	case "leastSessions", "":
		return &LeastSessions{counts: counts}, nil
	case "labelArithmetic":
		if cfg.CurrentLabel == "" || cfg.MaxLabel == "" {
			return nil, apperrors.New(apperrors.CodeConfigInvalid, "labelArithmetic strategy requires currentLabel and maxLabel")
		}
		return &LabelArithmetic{
			counts:       counts,
			currentLabel: cfg.CurrentLabel,
			maxLabel:     cfg.MaxLabel,
			overlap:      cfg.Overlap,
		}, nil
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown load balancing strategy %q", cfg.Strategy)
	}
}

func candidateAddress(r orchestrator.Resource, mapping config.ResourceMapping) (string, bool) {
	addr, err := r.ExtractAddress(mapping.AddressPath, mapping.AddressType)
	if err != nil {
		return "", false
	}
	return addr, true
}

// LeastSessions picks the candidate whose address currently carries the
// fewest sessions, breaking ties by input order.
type LeastSessions struct {
	counts *Counts
}

func (s *LeastSessions) Select(candidates []orchestrator.Resource, mapping config.ResourceMapping) (orchestrator.Resource, error) {
	if len(candidates) == 0 {
		return orchestrator.Resource{}, apperrors.New(apperrors.CodeNoCandidates, "no candidates to select from")
	}

	type scored struct {
		idx   int
		count int
	}
	scoredList := make([]scored, 0, len(candidates))
	for i, c := range candidates {
		addr, ok := candidateAddress(c, mapping)
		count := 0
		if ok {
			count = s.counts.Get(addr)
		}
		scoredList = append(scoredList, scored{idx: i, count: count})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].count < scoredList[j].count
	})

	return candidates[scoredList[0].idx], nil
}

// LabelArithmetic picks the candidate with the most computed available
// capacity: max - current - sessions - overlap.
type LabelArithmetic struct {
	counts       *Counts
	currentLabel string
	maxLabel     string
	overlap      int
}

func (s *LabelArithmetic) Select(candidates []orchestrator.Resource, mapping config.ResourceMapping) (orchestrator.Resource, error) {
	if len(candidates) == 0 {
		return orchestrator.Resource{}, apperrors.New(apperrors.CodeNoCandidates, "no candidates to select from")
	}

	type scored struct {
		idx       int
		available int
		current   int
	}
	var qualifying []scored

	for i, c := range candidates {
		maxVal, ok := c.ExtractAnnotationInt(s.maxLabel)
		if !ok {
			continue
		}
		currentVal, _ := c.ExtractAnnotationInt(s.currentLabel)

		sessions := 0
		if addr, ok := candidateAddress(c, mapping); ok {
			sessions = s.counts.Get(addr)
		}

		available := maxVal - currentVal - sessions - s.overlap
		if available > 0 {
			qualifying = append(qualifying, scored{idx: i, available: available, current: currentVal})
		}
	}

	if len(qualifying) == 0 {
		return orchestrator.Resource{}, apperrors.New(apperrors.CodeNoCapacity, "no candidate has available capacity")
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		if qualifying[i].available != qualifying[j].available {
			return qualifying[i].available > qualifying[j].available
		}
		return qualifying[i].current < qualifying[j].current
	})

	return candidates[qualifying[0].idx], nil
}
