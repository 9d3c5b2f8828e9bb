package contexts

import (
	"github.com/giantswarm/kubecontexts/internal/health"
	"github.com/giantswarm/kubecontexts/internal/permissions"
)

// StateSink receives every state change the Manager observes.
// Implementations must be safe for concurrent use.
type StateSink interface {
	SetHealth(state health.State)
	SetPermission(p permissions.ResourcePermission)
	SetResourceCount(contextName, kind string, count int)
	DeleteResourceCount(contextName, kind string)
	DeleteContext(contextName string)
}

type discardSink struct{}

func (discardSink) SetHealth(health.State)                       {}
func (discardSink) SetPermission(permissions.ResourcePermission) {}
func (discardSink) SetResourceCount(string, string, int)         {}
func (discardSink) DeleteResourceCount(string, string)           {}
func (discardSink) DeleteContext(string)                         {}
