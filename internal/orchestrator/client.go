package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"

	"github.com/nitecon/udp-director/internal/apperrors"
	"github.com/nitecon/udp-director/internal/config"
)

// Client lists backend candidates for a resource mapping, filtering by
// label selector, annotation selector and status query.
type Client interface {
	Query(ctx context.Context, namespace string, mapping config.ResourceMapping, labelSelector map[string]string, statusQuery *config.StatusQueryConfig) ([]Resource, error)
}

// DynamicClient queries a Kubernetes API server's dynamic/unstructured
// interface. It never assumes a typed scheme: every resource kind named
// in resourceQueryMapping is addressed purely by group/version/resource.
type DynamicClient struct {
	dyn dynamic.Interface
}

// NewDynamicClient builds a DynamicClient from in-cluster config when
// running inside a pod, or from the default kubeconfig path otherwise.
func NewDynamicClient() (*DynamicClient, error) {
	restConfig, err := resolveRESTConfig()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeOrchestratorUnavailable, "failed to resolve kubernetes client config")
	}

	dyn, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeOrchestratorUnavailable, "failed to construct dynamic client")
	}

	return &DynamicClient{dyn: dyn}, nil
}

func resolveRESTConfig() (*rest.Config, error) {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return rest.InClusterConfig()
	}

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		if home := homedir.HomeDir(); home != "" {
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfig)
}

// Query lists every object of mapping's group/version/resource within
// namespace matching labelSelector, then filters client-side by mapping's
// annotation selector and the caller's status query.
func (c *DynamicClient) Query(ctx context.Context, namespace string, mapping config.ResourceMapping, labelSelector map[string]string, statusQuery *config.StatusQueryConfig) ([]Resource, error) {
	gvr := schema.GroupVersionResource{
		Group:    mapping.Group,
		Version:  mapping.Version,
		Resource: mapping.Resource,
	}

	listOpts := metav1.ListOptions{}
	if len(labelSelector) > 0 {
		listOpts.LabelSelector = labels.SelectorFromSet(labelSelector).String()
	}

	list, err := c.dyn.Resource(gvr).Namespace(namespace).List(ctx, listOpts)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeOrchestratorUnavailable, "failed to list %s in namespace %s", mapping.Resource, namespace)
	}

	candidates := make([]Resource, 0, len(list.Items))
	for i := range list.Items {
		item := &list.Items[i]
		r := FromUnstructured(item)
		if !r.MatchesAnnotationSelector(mapping.AnnotationSelector) {
			continue
		}
		if !r.MatchesStatusQuery(statusQuery) {
			continue
		}
		candidates = append(candidates, r)
	}

	if len(candidates) == 0 {
		return nil, apperrors.Newf(apperrors.CodeNoMatchingResources, "no %s resources in namespace %s matched the configured selectors", mapping.Resource, namespace)
	}

	return candidates, nil
}

var _ Client = (*DynamicClient)(nil)
