package dispatcher

import (
	"context"
	"sync"
)

// Watch returns a channel receiving notifications until ctx is done. A slow
// reader never blocks the dispatcher: notifications for a channel that is
// still pending are merged into one.
func (d *Dispatcher) Watch(ctx context.Context) <-chan Channel {
	w := &watcher{
		pending: make(map[Channel]bool),
		wake:    make(chan struct{}, 1),
		out:     make(chan Channel),
	}
	_, cancel := d.Subscribe(w.enqueue)

	go func() {
		defer close(w.out)
		defer cancel()
		w.run(ctx)
	}()

	return w.out
}

type watcher struct {
	mu      sync.Mutex
	pending map[Channel]bool
	wake    chan struct{}
	out     chan Channel
}

func (w *watcher) enqueue(ch Channel) {
	w.mu.Lock()
	w.pending[ch] = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) next() (Channel, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, ch := range Channels() {
		if w.pending[ch] {
			delete(w.pending, ch)
			return ch, true
		}
	}
	return "", false
}

func (w *watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		for {
			ch, ok := w.next()
			if !ok {
				break
			}
			select {
			case w.out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}
}
