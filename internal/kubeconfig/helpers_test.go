package kubeconfig

import (
	"io"
	"log/slog"

	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testContext describes one context for newRawConfig.
type testContext struct {
	name      string
	server    string
	token     string
	namespace string
}

func newRawConfig(contexts ...testContext) *clientcmdapi.Config {
	cfg := clientcmdapi.NewConfig()
	for _, c := range contexts {
		cluster := clientcmdapi.NewCluster()
		cluster.Server = c.server
		cluster.InsecureSkipTLSVerify = true
		cfg.Clusters[c.name+"-cluster"] = cluster

		user := clientcmdapi.NewAuthInfo()
		user.Token = c.token
		cfg.AuthInfos[c.name+"-user"] = user

		kctx := clientcmdapi.NewContext()
		kctx.Cluster = c.name + "-cluster"
		kctx.AuthInfo = c.name + "-user"
		kctx.Namespace = c.namespace
		cfg.Contexts[c.name] = kctx
	}
	return cfg
}

func newTestConfig(contexts ...testContext) *Config {
	return NewConfig(newRawConfig(contexts...), newTestLogger())
}
