package query

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/orchestrator"
	"github.com/nitecon/udp-director/internal/selector"
	"github.com/nitecon/udp-director/internal/session"
	"github.com/nitecon/udp-director/internal/tokencache"
)

type fakeClient struct {
	resources []orchestrator.Resource
	err       error
}

func (f *fakeClient) Query(ctx context.Context, namespace string, mapping config.ResourceMapping, labelSelector map[string]string, statusQuery *config.StatusQueryConfig) ([]orchestrator.Resource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resources, nil
}

func newTestLoader(t *testing.T) *config.Loader {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	const yaml = `
queryPort: 9001
dataPorts:
  - port: 7777
    protocol: udp
    name: game
defaultEndpoint:
  resourceType: gameserver
  namespace: default
resourceQueryMapping:
  gameserver:
    resource: gameservers
    addressPath: status.address
    portPath: status.port
loadBalancing:
  strategy: leastSessions
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	loader, err := config.NewLoader(path)
	if err != nil {
		t.Fatalf("failed to build loader: %v", err)
	}
	t.Cleanup(func() { loader.Close() })
	return loader
}

func fakeGameserver(address string, port int64) orchestrator.Resource {
	return orchestrator.FromUnstructured(&unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": "fleet-1"},
		"status":   map[string]interface{}{"address": address, "port": port},
	}})
}

func newTestResponder(t *testing.T, client orchestrator.Client) *Responder {
	t.Helper()
	loader := newTestLoader(t)
	tokens := tokencache.New(30 * 1e9)
	t.Cleanup(tokens.Close)
	counts := selector.NewCounts()
	sessions := session.NewTable(60*1e9, counts)
	t.Cleanup(sessions.Shutdown)
	return New(9001, loader, client, tokens, sessions, counts)
}

func TestProcessQueryMintsTokenAndInstallsSession(t *testing.T) {
	client := &fakeClient{resources: []orchestrator.Resource{fakeGameserver("10.0.0.5", 30001)}}
	r := newTestResponder(t, client)

	resp := r.processQuery(request{Type: "query", ResourceType: "gameserver", Namespace: "default"}, "203.0.113.1")
	if resp.Error != "" {
		t.Fatalf("unexpected error response: %s", resp.Error)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	target, ok := r.sessions.Target("203.0.113.1")
	if !ok || target.BackendIP != "10.0.0.5" {
		t.Fatalf("expected a session pointing at 10.0.0.5, got %+v (ok=%v)", target, ok)
	}
}

func TestProcessQueryUnknownResourceType(t *testing.T) {
	r := newTestResponder(t, &fakeClient{})
	resp := r.processQuery(request{Type: "query", ResourceType: "does-not-exist"}, "203.0.113.1")
	if resp.Error == "" {
		t.Fatal("expected an error response for an unknown resource type")
	}
}

func TestProcessQueryNoMatchingResources(t *testing.T) {
	client := &fakeClient{err: apperrors.New(apperrors.CodeNoMatchingResources, "none found")}
	r := newTestResponder(t, client)

	resp := r.processQuery(request{Type: "query", ResourceType: "gameserver", Namespace: "default"}, "203.0.113.1")
	if resp.Error != "No matching resources found" {
		t.Fatalf("expected the no-matching-resources message, got %q", resp.Error)
	}
}

func TestProcessSessionResetWithValidToken(t *testing.T) {
	r := newTestResponder(t, &fakeClient{})
	token := r.tokens.Mint(selector.Target{BackendIP: "10.0.0.9"})

	resp := r.processSessionReset(request{Type: "sessionReset", Token: token}, "203.0.113.2")
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Token != token {
		t.Fatalf("expected the response to echo the token, got %q", resp.Token)
	}

	target, ok := r.sessions.Target("203.0.113.2")
	if !ok || target.BackendIP != "10.0.0.9" {
		t.Fatalf("expected session reset to install 10.0.0.9, got %+v (ok=%v)", target, ok)
	}
}

func TestProcessSessionResetWithInvalidToken(t *testing.T) {
	r := newTestResponder(t, &fakeClient{})
	resp := r.processSessionReset(request{Type: "sessionReset", Token: "bogus"}, "203.0.113.2")
	if resp.Error != "Invalid or expired token" {
		t.Fatalf("expected an invalid-token error, got %q", resp.Error)
	}
}
