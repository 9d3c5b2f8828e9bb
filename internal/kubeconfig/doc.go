// Package kubeconfig turns kubeconfig files into per-context descriptors and
// tracks how the set of contexts changes over time.
//
// A ContextDescriptor is a kubeconfig pinned to exactly one context. It is the
// identity boundary for everything the engine runs per context: two
// descriptors with the same name are only considered different when their
// resolved cluster, credentials or namespace differ.
//
// The Differ compares successive RawConfig snapshots and emits one
// ContextEvent per added, updated or deleted context:
//
//	differ := kubeconfig.NewDiffer()
//	differ.OnEvent(func(ev kubeconfig.ContextEvent) {
//	    switch ev.Type {
//	    case kubeconfig.ContextAdded:
//	    case kubeconfig.ContextUpdated:
//	    case kubeconfig.ContextDeleted:
//	    }
//	})
//	differ.Update(cfg)
//
// The Watcher reloads kubeconfig files when they change on disk and feeds the
// result back into the Differ.
package kubeconfig
