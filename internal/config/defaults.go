package config

// GetDefaultConfig returns default configuration values, used as the base
// layer before a YAML file (if present) and environment overrides are
// applied.
func GetDefaultConfig() *ApplicationConfig {
	return &ApplicationConfig{
		QueryPort: 9000,
		DataPorts: []DataPortConfig{
			{Port: 7777, Protocol: ProtocolUDP, Name: "default"},
		},
		TokenTTLSeconds:       30,
		SessionTimeoutSeconds: 300,
		ControlPacketMagicHex: "FFFFFFFF5245534554",
		ResourceQueryMapping:  map[string]ResourceMapping{},
		LoadBalancing: LoadBalancingConfig{
			Strategy: "leastSessions",
		},
		ResourceMonitor: ResourceMonitorConfig{
			CheckIntervalSeconds: 10,
		},
		Observability: ObservabilityConfig{
			MetricsPort: 9100,
		},
		QueryRateLimit: QueryRateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
			MaxTrackedIPs:     10000,
		},
	}
}
