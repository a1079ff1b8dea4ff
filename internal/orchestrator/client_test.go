package orchestrator

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
)

func gameServerObject(name, namespace, address string, port int64, labelsMap map[string]string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "agones.dev/v1",
		"kind":       "GameServer",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    toInterfaceMap(labelsMap),
		},
		"status": map[string]interface{}{
			"address": address,
			"port":    port,
		},
	}}
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func newFakeDynamicClient(t *testing.T, objects ...runtime.Object) *DynamicClient {
	t.Helper()
	scheme := runtime.NewScheme()
	gvrToListKind := map[schema.GroupVersionResource]string{
		{Group: "agones.dev", Version: "v1", Resource: "gameservers"}: "GameServerList",
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, gvrToListKind, objects...)
	return &DynamicClient{dyn: dyn}
}

func TestDynamicClientQueryReturnsMatchingResources(t *testing.T) {
	obj := gameServerObject("fleet-1", "default", "10.0.0.5", 30001, map[string]string{"fleet": "alpha"})
	client := newFakeDynamicClient(t, obj)

	mapping := config.ResourceMapping{Group: "agones.dev", Version: "v1", Resource: "gameservers"}

	results, err := client.Query(context.Background(), "default", mapping, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Name() != "fleet-1" {
		t.Fatalf("expected exactly one result named fleet-1, got %+v", results)
	}
}

func TestDynamicClientQueryFiltersByLabelSelector(t *testing.T) {
	alpha := gameServerObject("fleet-alpha", "default", "10.0.0.5", 30001, map[string]string{"fleet": "alpha"})
	beta := gameServerObject("fleet-beta", "default", "10.0.0.6", 30002, map[string]string{"fleet": "beta"})
	client := newFakeDynamicClient(t, alpha, beta)

	mapping := config.ResourceMapping{Group: "agones.dev", Version: "v1", Resource: "gameservers"}

	results, err := client.Query(context.Background(), "default", mapping, map[string]string{"fleet": "beta"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Name() != "fleet-beta" {
		t.Fatalf("expected only fleet-beta to match the label selector, got %+v", results)
	}
}

func TestDynamicClientQueryReturnsNoMatchingResourcesError(t *testing.T) {
	client := newFakeDynamicClient(t)
	mapping := config.ResourceMapping{Group: "agones.dev", Version: "v1", Resource: "gameservers"}

	_, err := client.Query(context.Background(), "default", mapping, nil, nil)
	if !apperrors.Is(err, apperrors.CodeNoMatchingResources) {
		t.Fatalf("expected a CodeNoMatchingResources error, got %v", err)
	}
}

func TestDynamicClientQueryFiltersByStatusQuery(t *testing.T) {
	ready := gameServerObject("fleet-ready", "default", "10.0.0.5", 30001, nil)
	ready.Object["status"].(map[string]interface{})["state"] = "Ready"
	allocated := gameServerObject("fleet-allocated", "default", "10.0.0.6", 30002, nil)
	allocated.Object["status"].(map[string]interface{})["state"] = "Allocated"

	client := newFakeDynamicClient(t, ready, allocated)
	mapping := config.ResourceMapping{Group: "agones.dev", Version: "v1", Resource: "gameservers"}
	statusQuery := &config.StatusQueryConfig{JSONPath: "status.state", ExpectedValues: []string{"Ready"}}

	results, err := client.Query(context.Background(), "default", mapping, nil, statusQuery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Name() != "fleet-ready" {
		t.Fatalf("expected only fleet-ready to match the status query, got %+v", results)
	}
}
