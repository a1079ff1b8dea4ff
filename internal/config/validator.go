package config

import (
	"encoding/hex"
	"fmt"
)

// ValidateConfig validates the configuration per the director's external
// interface requirements: non-zero ports, non-empty names, non-empty
// resource type/namespace, a non-empty mapping table, and parseable magic
// hex.
func ValidateConfig(cfg *ApplicationConfig) error {
	if cfg.QueryPort < 1 || cfg.QueryPort > 65535 {
		return fmt.Errorf("queryPort must be between 1 and 65535")
	}

	if len(cfg.DataPorts) == 0 {
		return fmt.Errorf("dataPorts must contain at least one entry")
	}

	seenNames := make(map[string]bool, len(cfg.DataPorts))
	seenPorts := make(map[int]bool, len(cfg.DataPorts))
	for i, dp := range cfg.DataPorts {
		if dp.Port < 1 || dp.Port > 65535 {
			return fmt.Errorf("dataPorts[%d]: invalid port %d", i, dp.Port)
		}
		if dp.Name == "" {
			return fmt.Errorf("dataPorts[%d]: name is required", i)
		}
		if dp.Protocol != ProtocolUDP && dp.Protocol != ProtocolTCP {
			return fmt.Errorf("dataPorts[%d]: protocol must be 'udp' or 'tcp'", i)
		}
		if seenNames[dp.Name] {
			return fmt.Errorf("dataPorts[%d]: duplicate name %q", i, dp.Name)
		}
		seenNames[dp.Name] = true
		key := dp.Port
		if seenPorts[key] {
			return fmt.Errorf("dataPorts[%d]: duplicate port %d", i, dp.Port)
		}
		seenPorts[key] = true
	}

	if cfg.DefaultEndpoint.ResourceType == "" {
		return fmt.Errorf("defaultEndpoint.resourceType is required")
	}
	if cfg.DefaultEndpoint.Namespace == "" {
		return fmt.Errorf("defaultEndpoint.namespace is required")
	}

	if cfg.TokenTTLSeconds < 1 {
		return fmt.Errorf("tokenTtlSeconds must be >= 1")
	}
	if cfg.SessionTimeoutSeconds < 1 {
		return fmt.Errorf("sessionTimeoutSeconds must be >= 1")
	}

	if cfg.ControlPacketMagicHex != "" {
		if _, err := hex.DecodeString(cfg.ControlPacketMagicHex); err != nil {
			return fmt.Errorf("controlPacketMagicBytes is not valid hex: %w", err)
		}
	}

	if len(cfg.ResourceQueryMapping) == 0 {
		return fmt.Errorf("resourceQueryMapping must contain at least one entry")
	}
	for name, mapping := range cfg.ResourceQueryMapping {
		if mapping.Resource == "" {
			return fmt.Errorf("resourceQueryMapping[%s]: resource is required", name)
		}
		if mapping.AddressPath == "" {
			return fmt.Errorf("resourceQueryMapping[%s]: addressPath is required", name)
		}
		if mapping.PortPath == "" && mapping.PortName == "" && len(mapping.Ports) == 0 {
			return fmt.Errorf("resourceQueryMapping[%s]: one of portPath, portName or ports is required", name)
		}
	}

	if _, ok := cfg.ResourceQueryMapping[cfg.DefaultEndpoint.ResourceType]; !ok {
		return fmt.Errorf("defaultEndpoint.resourceType %q has no entry in resourceQueryMapping", cfg.DefaultEndpoint.ResourceType)
	}

	switch cfg.LoadBalancing.Strategy {
	case "leastSessions":
	case "labelArithmetic":
		if cfg.LoadBalancing.CurrentLabel == "" {
			return fmt.Errorf("loadBalancing.currentLabel is required for labelArithmetic")
		}
		if cfg.LoadBalancing.MaxLabel == "" {
			return fmt.Errorf("loadBalancing.maxLabel is required for labelArithmetic")
		}
		if cfg.LoadBalancing.Overlap < 0 {
			return fmt.Errorf("loadBalancing.overlap must be >= 0")
		}
	default:
		return fmt.Errorf("loadBalancing.strategy must be 'leastSessions' or 'labelArithmetic', got %q", cfg.LoadBalancing.Strategy)
	}

	if cfg.ResourceMonitor.CheckIntervalSeconds < 1 {
		return fmt.Errorf("resourceMonitor.checkIntervalSeconds must be >= 1")
	}

	if cfg.QueryRateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("queryRateLimit.requestsPerMinute must be >= 1")
	}
	if cfg.QueryRateLimit.Burst < 1 {
		return fmt.Errorf("queryRateLimit.burst must be >= 1")
	}
	if cfg.QueryRateLimit.MaxTrackedIPs < 1 {
		return fmt.Errorf("queryRateLimit.maxTrackedIps must be >= 1")
	}

	return nil
}
