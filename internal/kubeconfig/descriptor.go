package kubeconfig

import (
	"fmt"

	apiequality "k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// DefaultNamespace is used for namespaced requests when a context does not
// pin a namespace.
const DefaultNamespace = "default"

// ContextDescriptor is a kubeconfig reduced to a single context.
type ContextDescriptor struct {
	// Name is the context name. It is unique within one RawConfig.
	Name string

	// Cluster and User are the kubeconfig entry names the context refers to.
	Cluster string
	User    string

	// Namespace is the namespace configured on the context, possibly empty.
	Namespace string

	// Server is the API server URL of the context's cluster.
	Server string

	cluster  *clientcmdapi.Cluster
	authInfo *clientcmdapi.AuthInfo
}

// NewDescriptor builds a descriptor from already resolved kubeconfig entries.
// The entries are deep-copied. authInfo may be nil for contexts without
// credentials.
func NewDescriptor(name string, cluster *clientcmdapi.Cluster, authInfo *clientcmdapi.AuthInfo, namespace string) *ContextDescriptor {
	d := &ContextDescriptor{
		Name:      name,
		Cluster:   name,
		Namespace: namespace,
		cluster:   clientcmdapi.NewCluster(),
		authInfo:  clientcmdapi.NewAuthInfo(),
	}
	if cluster != nil {
		d.cluster = cluster.DeepCopy()
		d.Server = cluster.Server
	}
	if authInfo != nil {
		d.authInfo = authInfo.DeepCopy()
		d.User = name
	}
	return d
}

// descriptorFor resolves one named context of raw.
func descriptorFor(raw *clientcmdapi.Config, name string) (*ContextDescriptor, error) {
	kctx, ok := raw.Contexts[name]
	if !ok || kctx == nil {
		return nil, fmt.Errorf("context %q not found", name)
	}

	cluster, ok := raw.Clusters[kctx.Cluster]
	if !ok || cluster == nil {
		return nil, fmt.Errorf("context %q refers to unknown cluster %q", name, kctx.Cluster)
	}

	authInfo := clientcmdapi.NewAuthInfo()
	if kctx.AuthInfo != "" {
		ai, ok := raw.AuthInfos[kctx.AuthInfo]
		if !ok || ai == nil {
			return nil, fmt.Errorf("context %q refers to unknown user %q", name, kctx.AuthInfo)
		}
		authInfo = ai.DeepCopy()
	}

	return &ContextDescriptor{
		Name:      name,
		Cluster:   kctx.Cluster,
		User:      kctx.AuthInfo,
		Namespace: kctx.Namespace,
		Server:    cluster.Server,
		cluster:   cluster.DeepCopy(),
		authInfo:  authInfo,
	}, nil
}

// EffectiveNamespace returns the namespace used for namespaced requests.
func (d *ContextDescriptor) EffectiveNamespace() string {
	if d.Namespace == "" {
		return DefaultNamespace
	}
	return d.Namespace
}

// APIConfig returns a kubeconfig containing only this context, selected as
// the current context.
func (d *ContextDescriptor) APIConfig() *clientcmdapi.Config {
	cfg := clientcmdapi.NewConfig()

	clusterName := d.Cluster
	if clusterName == "" {
		clusterName = d.Name
	}
	cfg.Clusters[clusterName] = d.cluster.DeepCopy()

	kctx := clientcmdapi.NewContext()
	kctx.Cluster = clusterName
	kctx.Namespace = d.Namespace
	if d.User != "" {
		cfg.AuthInfos[d.User] = d.authInfo.DeepCopy()
		kctx.AuthInfo = d.User
	}
	cfg.Contexts[d.Name] = kctx
	cfg.CurrentContext = d.Name

	return cfg
}

// RESTConfig builds a client-go configuration for this context.
func (d *ContextDescriptor) RESTConfig() (*rest.Config, error) {
	cc := clientcmd.NewNonInteractiveClientConfig(*d.APIConfig(), d.Name, &clientcmd.ConfigOverrides{}, nil)
	cfg, err := cc.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build rest config for context %q: %w", d.Name, err)
	}
	return cfg, nil
}

// Equal reports whether both descriptors resolve to the same cluster endpoint,
// credentials and namespace. Where an entry was loaded from is ignored.
func (d *ContextDescriptor) Equal(other *ContextDescriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Name != other.Name || d.Namespace != other.Namespace {
		return false
	}
	return apiequality.Semantic.DeepEqual(comparableCluster(d.cluster), comparableCluster(other.cluster)) &&
		apiequality.Semantic.DeepEqual(comparableAuthInfo(d.authInfo), comparableAuthInfo(other.authInfo))
}

func comparableCluster(c *clientcmdapi.Cluster) *clientcmdapi.Cluster {
	if c == nil {
		return clientcmdapi.NewCluster()
	}
	out := c.DeepCopy()
	out.LocationOfOrigin = ""
	if len(out.Extensions) == 0 {
		out.Extensions = nil
	}
	return out
}

func comparableAuthInfo(a *clientcmdapi.AuthInfo) *clientcmdapi.AuthInfo {
	if a == nil {
		return clientcmdapi.NewAuthInfo()
	}
	out := a.DeepCopy()
	out.LocationOfOrigin = ""
	if len(out.Extensions) == 0 {
		out.Extensions = nil
	}
	return out
}
