package resources

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubInformer is an Informer that does nothing but remember Stop.
type stubInformer struct {
	contextName string
	kind        string

	mu      sync.Mutex
	stopped bool
}

func newStubInformer(contextName, kind string) *stubInformer {
	return &stubInformer{contextName: contextName, kind: kind}
}

func (s *stubInformer) ContextName() string {
	return s.contextName
}

func (s *stubInformer) Kind() string {
	return s.kind
}

func (s *stubInformer) Start(context.Context) error {
	return nil
}

func (s *stubInformer) Subscribe(func(InformerEvent)) func() {
	return func() {}
}

func (s *stubInformer) List() []*unstructured.Unstructured {
	return nil
}

func (s *stubInformer) Get(string, string) (*unstructured.Unstructured, bool) {
	return nil, false
}

func (s *stubInformer) Count() int {
	return 0
}

func (s *stubInformer) HasSynced() bool {
	return true
}

func (s *stubInformer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *stubInformer) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func newPod(namespace, name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{
		Object: map[string]any{
			"apiVersion": "v1",
			"kind":       "Pod",
			"metadata": map[string]any{
				"name":      name,
				"namespace": namespace,
			},
		},
	}
}
