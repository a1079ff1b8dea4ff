package monitor

import (
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nitecon/udp-director/internal/config"
	"github.com/nitecon/udp-director/internal/orchestrator"
)

func TestDescribeCandidateWithAddressAndPort(t *testing.T) {
	r := orchestrator.FromUnstructured(&unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": "fleet-1"},
		"status":   map[string]interface{}{"address": "10.0.0.5", "port": int64(7777)},
	}})
	mapping := config.ResourceMapping{AddressPath: "status.address", PortPath: "status.port"}

	got := describeCandidate(r, mapping)
	want := "fleet-1 (10.0.0.5:7777)"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestDescribeCandidateFallsBackToNameOnExtractionFailure(t *testing.T) {
	r := orchestrator.FromUnstructured(&unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": "fleet-2"},
	}})
	mapping := config.ResourceMapping{AddressPath: "status.address", PortPath: "status.port"}

	got := describeCandidate(r, mapping)
	if got != "fleet-2" {
		t.Fatalf("expected fallback to the bare name, got %q", got)
	}
}
