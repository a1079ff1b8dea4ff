package config

// ApplicationConfig is the root configuration structure for the session
// director.
type ApplicationConfig struct {
	QueryPort             int                        `yaml:"queryPort" json:"queryPort"`
	DataPorts             []DataPortConfig           `yaml:"dataPorts" json:"dataPorts"`
	DataPort              *int                       `yaml:"dataPort,omitempty" json:"dataPort,omitempty"`
	DefaultEndpoint       DefaultEndpointConfig      `yaml:"defaultEndpoint" json:"defaultEndpoint"`
	TokenTTLSeconds       int                        `yaml:"tokenTtlSeconds" json:"tokenTtlSeconds"`
	SessionTimeoutSeconds int                        `yaml:"sessionTimeoutSeconds" json:"sessionTimeoutSeconds"`
	ControlPacketMagicHex string                     `yaml:"controlPacketMagicBytes" json:"controlPacketMagicBytes"`
	ResourceQueryMapping  map[string]ResourceMapping `yaml:"resourceQueryMapping" json:"resourceQueryMapping"`
	LoadBalancing         LoadBalancingConfig        `yaml:"loadBalancing" json:"loadBalancing"`
	ResourceMonitor       ResourceMonitorConfig      `yaml:"resourceMonitor" json:"resourceMonitor"`
	Observability         ObservabilityConfig        `yaml:"observability" json:"observability"`
	QueryRateLimit        QueryRateLimitConfig       `yaml:"queryRateLimit" json:"queryRateLimit"`
}

// Protocol names the two transports a data port can speak.
type Protocol string

const (
	ProtocolUDP Protocol = "udp"
	ProtocolTCP Protocol = "tcp"
)

// DataPortConfig describes one proxied port the Data Proxy listens on.
type DataPortConfig struct {
	Port     int      `yaml:"port" json:"port"`
	Protocol Protocol `yaml:"protocol" json:"protocol"`
	Name     string   `yaml:"name" json:"name"`
}

// DefaultEndpointConfig selects the candidate set used for tokenless
// clients and by the Resource Monitor.
type DefaultEndpointConfig struct {
	ResourceType  string             `yaml:"resourceType" json:"resourceType"`
	Namespace     string             `yaml:"namespace" json:"namespace"`
	LabelSelector map[string]string  `yaml:"labelSelector,omitempty" json:"labelSelector,omitempty"`
	StatusQuery   *StatusQueryConfig `yaml:"statusQuery,omitempty" json:"statusQuery,omitempty"`
}

// StatusQueryConfig filters a candidate set by a JSON-path value.
type StatusQueryConfig struct {
	JSONPath       string   `yaml:"jsonPath" json:"jsonPath"`
	ExpectedValues []string `yaml:"expectedValues" json:"expectedValues"`
}

// PortMapping names one entry of a multi-port resource's extracted ports.
type PortMapping struct {
	Name     string `yaml:"name" json:"name"`
	PortPath string `yaml:"portPath,omitempty" json:"portPath,omitempty"`
	PortName string `yaml:"portName,omitempty" json:"portName,omitempty"`
}

// ResourceMapping is the recipe for listing and extracting targets from
// one orchestrator resource type.
type ResourceMapping struct {
	Group              string            `yaml:"group" json:"group"`
	Version            string            `yaml:"version" json:"version"`
	Resource           string            `yaml:"resource" json:"resource"`
	AddressPath        string            `yaml:"addressPath" json:"addressPath"`
	AddressType        string            `yaml:"addressType,omitempty" json:"addressType,omitempty"`
	PortPath           string            `yaml:"portPath,omitempty" json:"portPath,omitempty"`
	PortName           string            `yaml:"portName,omitempty" json:"portName,omitempty"`
	Ports              []PortMapping     `yaml:"ports,omitempty" json:"ports,omitempty"`
	AnnotationSelector map[string]string `yaml:"annotationSelector,omitempty" json:"annotationSelector,omitempty"`
}

// LoadBalancingConfig selects and parameterizes the Backend Selector
// strategy.
type LoadBalancingConfig struct {
	Strategy     string `yaml:"strategy" json:"strategy"` // "leastSessions" | "labelArithmetic"
	CurrentLabel string `yaml:"currentLabel,omitempty" json:"currentLabel,omitempty"`
	MaxLabel     string `yaml:"maxLabel,omitempty" json:"maxLabel,omitempty"`
	Overlap      int    `yaml:"overlap,omitempty" json:"overlap,omitempty"`
}

// ResourceMonitorConfig controls the default-endpoint watch cadence.
type ResourceMonitorConfig struct {
	CheckIntervalSeconds int `yaml:"checkIntervalSeconds" json:"checkIntervalSeconds"`
}

// ObservabilityConfig configures the metrics/health HTTP boundary.
type ObservabilityConfig struct {
	MetricsPort int `yaml:"metricsPort" json:"metricsPort"`
}

// QueryRateLimitConfig bounds how often one client IP may hit the query
// channel, so a single misbehaving or hostile client cannot monopolize
// orchestrator queries or token minting.
type QueryRateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute" json:"requestsPerMinute"`
	Burst             int `yaml:"burst" json:"burst"`
	MaxTrackedIPs     int `yaml:"maxTrackedIps" json:"maxTrackedIps"`
}
