package instrumentation

import "strings"

// ContextType is a low-cardinality classification of a kubeconfig context
// name, used as a metric label instead of the name itself.
type ContextType string

// Context type classifications.
const (
	// ContextTypeLocal covers local development clusters (kind, minikube, k3d, ...).
	ContextTypeLocal ContextType = "local"

	// ContextTypeProduction represents production contexts.
	ContextTypeProduction ContextType = "production"

	// ContextTypeStaging represents staging/pre-production contexts.
	ContextTypeStaging ContextType = "staging"

	// ContextTypeDevelopment represents development, demo and test contexts.
	ContextTypeDevelopment ContextType = "development"

	// ContextTypeUnknown is used for an empty name.
	ContextTypeUnknown ContextType = "unknown"

	// ContextTypeOther represents contexts that don't match any known pattern.
	ContextTypeOther ContextType = "other"
)

var localContextPrefixes = []string{
	"kind-",
	"k3d-",
	"minikube",
	"docker-desktop",
	"rancher-desktop",
	"orbstack",
	"colima",
}

// ClassifyContextName maps a context name to a ContextType.
//
// Managed-cluster names are reduced to the cluster part first, so
// "gke_project_europe-west1_prod-api" and
// "arn:aws:eks:eu-west-1:123456789012:cluster/prod-api" both classify on
// "prod-api". Matching is case-insensitive:
//
//	ClassifyContextName("kind-dev")          // "local"
//	ClassifyContextName("prod-eu-1")         // "production"
//	ClassifyContextName("team-stg")          // "staging"
//	ClassifyContextName("demo")              // "development"
//	ClassifyContextName("my-cluster")        // "other"
func ClassifyContextName(name string) string {
	if name == "" {
		return string(ContextTypeUnknown)
	}

	n := strings.ToLower(name)
	for _, p := range localContextPrefixes {
		if strings.HasPrefix(n, p) {
			return string(ContextTypeLocal)
		}
	}

	n = clusterPart(n)

	hasToken := func(tokens ...string) bool {
		for _, tok := range tokens {
			if n == tok ||
				strings.HasPrefix(n, tok+"-") || strings.HasPrefix(n, tok+"_") ||
				strings.HasSuffix(n, "-"+tok) ||
				strings.Contains(n, "-"+tok+"-") {
				return true
			}
		}
		return false
	}

	switch {
	case strings.Contains(n, "production") || hasToken("prod", "prd", "live"):
		return string(ContextTypeProduction)
	case strings.Contains(n, "staging") || hasToken("stg", "stage", "uat"):
		return string(ContextTypeStaging)
	case strings.Contains(n, "development") || hasToken("dev", "demo", "test", "sandbox"):
		return string(ContextTypeDevelopment)
	}

	return string(ContextTypeOther)
}

// clusterPart strips the provider prefixes that GKE and EKS put into the
// context names they generate.
func clusterPart(n string) string {
	if strings.HasPrefix(n, "gke_") {
		parts := strings.SplitN(n, "_", 4)
		if len(parts) == 4 {
			return parts[3]
		}
	}
	if strings.HasPrefix(n, "arn:aws:eks:") {
		if i := strings.LastIndex(n, "/"); i >= 0 {
			return n[i+1:]
		}
	}
	return n
}
