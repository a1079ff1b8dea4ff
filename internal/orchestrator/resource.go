package orchestrator

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
)

// Resource is one candidate backend returned by the orchestrator: an
// unstructured Kubernetes object plus the field-extraction helpers needed
// to turn it into a selector.Target.
type Resource struct {
	obj *unstructured.Unstructured
}

// FromUnstructured wraps a raw unstructured object as a Resource.
func FromUnstructured(u *unstructured.Unstructured) Resource {
	return Resource{obj: u}
}

// Name returns the resource's metadata.name.
func (r Resource) Name() string {
	if r.obj == nil {
		return ""
	}
	return r.obj.GetName()
}

// Annotations returns the resource's metadata.annotations.
func (r Resource) Annotations() map[string]string {
	if r.obj == nil {
		return nil
	}
	return r.obj.GetAnnotations()
}

// Labels returns the resource's metadata.labels.
func (r Resource) Labels() map[string]string {
	if r.obj == nil {
		return nil
	}
	return r.obj.GetLabels()
}

// ExtractJSONPath walks a dotted path with optional [index] segments
// (e.g. "spec.containers[0].ports[1].containerPort") against the
// resource's object tree and returns the value found there.
func ExtractJSONPath(object map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = object

	for _, segment := range strings.Split(path, ".") {
		key, indices, err := splitSegment(segment)
		if err != nil {
			return nil, false
		}

		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		value, present := asMap[key]
		if !present {
			return nil, false
		}
		current = value

		for _, idx := range indices {
			asSlice, ok := current.([]interface{})
			if !ok || idx < 0 || idx >= len(asSlice) {
				return nil, false
			}
			current = asSlice[idx]
		}
	}

	return current, true
}

// splitSegment splits "ports[1]" into ("ports", [1]); a plain "ports"
// segment returns no indices. Multiple brackets chain, e.g. "a[0][1]".
func splitSegment(segment string) (string, []int, error) {
	bracket := strings.IndexByte(segment, '[')
	if bracket == -1 {
		return segment, nil, nil
	}

	key := segment[:bracket]
	rest := segment[bracket:]

	var indices []int
	for len(rest) > 0 {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("malformed path segment %q", segment)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return "", nil, fmt.Errorf("malformed path segment %q", segment)
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil {
			return "", nil, fmt.Errorf("malformed path index in %q: %w", segment, err)
		}
		indices = append(indices, idx)
		rest = rest[end+1:]
	}

	return key, indices, nil
}

// ExtractJSONPath is the Resource-bound convenience wrapper around the
// package-level path walker.
func (r Resource) ExtractJSONPath(path string) (interface{}, bool) {
	if r.obj == nil {
		return nil, false
	}
	return ExtractJSONPath(r.obj.Object, path)
}

// ExtractAddress resolves the backend's IP address. When addressType is
// empty, addressPath must point directly at a string. When addressType is
// set, addressPath must point at an array of {type, address} objects, and
// the first entry whose type matches addressType is returned.
func (r Resource) ExtractAddress(addressPath, addressType string) (string, error) {
	value, ok := r.ExtractJSONPath(addressPath)
	if !ok {
		return "", apperrors.Newf(apperrors.CodeExtractionFailure, "address path %q not found on resource %q", addressPath, r.Name())
	}

	if addressType == "" {
		s, ok := value.(string)
		if !ok {
			return "", apperrors.Newf(apperrors.CodeExtractionFailure, "address path %q did not resolve to a string on resource %q", addressPath, r.Name())
		}
		return s, nil
	}

	entries, ok := value.([]interface{})
	if !ok {
		return "", apperrors.Newf(apperrors.CodeExtractionFailure, "address path %q did not resolve to an array on resource %q", addressPath, r.Name())
	}

	for _, entry := range entries {
		asMap, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		t, _ := asMap["type"].(string)
		if t != addressType {
			continue
		}
		addr, _ := asMap["address"].(string)
		if addr != "" {
			return addr, nil
		}
	}

	return "", apperrors.Newf(apperrors.CodeExtractionFailure, "no address of type %q found on resource %q", addressType, r.Name())
}

// ExtractPort resolves a single proxy port. portName, when set, searches
// status.ports[] first and falls back to spec.containers[*].ports[] for
// an entry whose name matches; portPath, used when portName is empty,
// reads a numeric value directly from the given JSON path.
func (r Resource) ExtractPort(portPath, portName string) (int, error) {
	if portName != "" {
		if port, ok := r.findNamedPort("status.ports", portName); ok {
			return port, nil
		}
		if port, ok := r.findContainerPort(portName); ok {
			return port, nil
		}
		return 0, apperrors.Newf(apperrors.CodeExtractionFailure, "named port %q not found on resource %q", portName, r.Name())
	}

	value, ok := r.ExtractJSONPath(portPath)
	if !ok {
		return 0, apperrors.Newf(apperrors.CodeExtractionFailure, "port path %q not found on resource %q", portPath, r.Name())
	}
	return toInt(value)
}

// ExtractPorts resolves a named set of proxy ports, used when a single
// backend must advertise more than one game-data port.
func (r Resource) ExtractPorts(mappings []config.PortMapping) (map[string]int, error) {
	result := make(map[string]int, len(mappings))
	for _, m := range mappings {
		port, err := r.ExtractPort(m.PortPath, m.PortName)
		if err != nil {
			return nil, err
		}
		result[m.Name] = port
	}
	return result, nil
}

func (r Resource) findNamedPort(arrayPath, name string) (int, bool) {
	value, ok := r.ExtractJSONPath(arrayPath)
	if !ok {
		return 0, false
	}
	entries, ok := value.([]interface{})
	if !ok {
		return 0, false
	}
	for _, entry := range entries {
		asMap, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if asMap["name"] != name {
			continue
		}
		if port, err := toInt(asMap["port"]); err == nil {
			return port, true
		}
	}
	return 0, false
}

func (r Resource) findContainerPort(name string) (int, bool) {
	value, ok := r.ExtractJSONPath("spec.containers")
	if !ok {
		return 0, false
	}
	containers, ok := value.([]interface{})
	if !ok {
		return 0, false
	}
	for _, c := range containers {
		asMap, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		ports, ok := asMap["ports"].([]interface{})
		if !ok {
			continue
		}
		for _, p := range ports {
			portMap, ok := p.(map[string]interface{})
			if !ok || portMap["name"] != name {
				continue
			}
			if port, err := toInt(portMap["containerPort"]); err == nil {
				return port, true
			}
		}
	}
	return 0, false
}

// ExtractAnnotationInt reads an annotation by key and parses it as an
// integer, used by the labelArithmetic strategy to read current/max
// player counts.
func (r Resource) ExtractAnnotationInt(key string) (int, bool) {
	annotations := r.Annotations()
	if annotations == nil {
		return 0, false
	}
	raw, ok := annotations[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// MatchesAnnotationSelector reports whether every key in selector has a
// matching value in the resource's annotations. A missing annotation
// never matches, even against an empty expected value.
func (r Resource) MatchesAnnotationSelector(selector map[string]string) bool {
	if len(selector) == 0 {
		return true
	}
	annotations := r.Annotations()
	for k, want := range selector {
		got, ok := annotations[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// MatchesStatusQuery reports whether the value at query.JSONPath stringifies
// to one of query.ExpectedValues. A nil query always matches.
func (r Resource) MatchesStatusQuery(query *config.StatusQueryConfig) bool {
	if query == nil {
		return true
	}
	value, ok := r.ExtractJSONPath(query.JSONPath)
	if !ok {
		return false
	}
	s := fmt.Sprintf("%v", value)
	for _, expected := range query.ExpectedValues {
		if s == expected {
			return true
		}
	}
	return false
}

func toInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("value %v is not numeric", value)
	}
}
