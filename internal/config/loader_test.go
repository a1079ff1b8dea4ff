package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testYAML = `
queryPort: 9001
dataPorts:
  - port: 7777
    protocol: udp
    name: game
defaultEndpoint:
  resourceType: gameserver
  namespace: default
tokenTtlSeconds: 15
sessionTimeoutSeconds: 120
resourceQueryMapping:
  gameserver:
    resource: gameservers
    addressPath: status.address
    portPath: status.port
loadBalancing:
  strategy: leastSessions
resourceMonitor:
  checkIntervalSeconds: 5
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestNewLoaderParsesYAML(t *testing.T) {
	path := writeTempConfig(t, testYAML)

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader returned an error: %v", err)
	}
	defer loader.Close()

	cfg := loader.GetConfig()
	if cfg.QueryPort != 9001 {
		t.Fatalf("expected queryPort 9001, got %d", cfg.QueryPort)
	}
	if len(cfg.DataPorts) != 1 || cfg.DataPorts[0].Port != 7777 {
		t.Fatalf("expected one dataPort on 7777, got %+v", cfg.DataPorts)
	}
}

func TestNewLoaderFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	// The built-in defaults carry no defaultEndpoint and no
	// resourceQueryMapping, so a missing file is not a read error but the
	// defaults it falls back to are rejected by validation.
	dir := t.TempDir()
	_, err := NewLoader(filepath.Join(dir, "missing.yaml"))
	if err == nil {
		t.Fatal("expected the defaults alone to fail validation")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Fatalf("expected a missing config file to fall back to defaults and fail validation, got: %v", err)
	}
}

func TestLegacyDataPortNormalizesIntoDataPorts(t *testing.T) {
	const legacyYAML = `
dataPort: 8888
defaultEndpoint:
  resourceType: gameserver
  namespace: default
resourceQueryMapping:
  gameserver:
    resource: gameservers
    addressPath: status.address
    portPath: status.port
`
	path := writeTempConfig(t, legacyYAML)

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader returned an error: %v", err)
	}
	defer loader.Close()

	cfg := loader.GetConfig()
	if len(cfg.DataPorts) != 1 || cfg.DataPorts[0].Port != 8888 {
		t.Fatalf("expected legacy dataPort to normalize into dataPorts, got %+v", cfg.DataPorts)
	}
	if cfg.DataPorts[0].Protocol != ProtocolUDP {
		t.Fatalf("expected normalized legacy dataPort to default to udp, got %q", cfg.DataPorts[0].Protocol)
	}
}

func TestQueryPortEnvironmentOverride(t *testing.T) {
	path := writeTempConfig(t, testYAML)

	t.Setenv("QUERY_PORT", "9500")

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader returned an error: %v", err)
	}
	defer loader.Close()

	if got := loader.GetConfig().QueryPort; got != 9500 {
		t.Fatalf("expected QUERY_PORT override to win, got %d", got)
	}
}
