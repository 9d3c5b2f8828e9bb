package resources

import (
	"context"
	"errors"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

var (
	// ErrInformerStarted is returned by Start on an informer that already runs.
	ErrInformerStarted = errors.New("informer already started")

	// ErrInformerStopped is returned by Start on a stopped informer.
	ErrInformerStopped = errors.New("informer stopped")
)

// EventType identifies an InformerEvent.
type EventType int

const (
	// EventAdded reports an object added to the cache, including objects of
	// the initial list.
	EventAdded EventType = iota
	// EventUpdated reports a changed object.
	EventUpdated
	// EventDeleted reports a removed object.
	EventDeleted
	// EventSynced reports that the initial list has been delivered.
	EventSynced
	// EventConnected reports that the first list against the API server succeeded.
	EventConnected
	// EventError reports an unrecoverable watch failure. The informer is
	// stopped when it is emitted.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "add"
	case EventUpdated:
		return "update"
	case EventDeleted:
		return "delete"
	case EventSynced:
		return "synced"
	case EventConnected:
		return "connect"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// InformerEvent is emitted by an Informer. Object is set for Added, Updated
// and Deleted; OldObject only for Updated; Err only for Error.
type InformerEvent struct {
	Type        EventType
	ContextName string
	Kind        string
	Object      *unstructured.Unstructured
	OldObject   *unstructured.Unstructured
	Err         error
}

// Informer is a watch over one resource kind in one context.
type Informer interface {
	ContextName() string
	Kind() string

	// Start begins listing and watching. It does not block. The informer
	// stops when ctx is done, when Stop is called or after an Error event.
	Start(ctx context.Context) error

	// Stop releases the watch. It is safe to call more than once.
	Stop()

	// Stopped reports whether the informer has stopped.
	Stopped() bool

	// Subscribe registers fn for every event and returns its unsubscribe func.
	Subscribe(fn func(InformerEvent)) func()

	List() []*unstructured.Unstructured
	Get(namespace, name string) (*unstructured.Unstructured, bool)
	Count() int
	HasSynced() bool
}
