package memory

import (
	"strings"
	"sync"

	"github.com/go-slark/discovery/store"
)

type watcher struct {
	prefix  string
	ch      chan store.WatchResponse
	notify  chan struct{}
	aborted chan struct{}
	once    sync.Once

	mu       sync.Mutex
	queue    []store.WatchResponse
	finished bool
}

func newWatcher(prefix string) *watcher {
	return &watcher{
		prefix:  prefix,
		ch:      make(chan store.WatchResponse),
		notify:  make(chan struct{}, 1),
		aborted: make(chan struct{}),
	}
}

func (w *watcher) push(resp store.WatchResponse) {
	w.mu.Lock()
	w.queue = append(w.queue, resp)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// finish closes the stream once the queue is drained.
func (w *watcher) finish() {
	w.mu.Lock()
	w.finished = true
	w.mu.Unlock()
}

func (w *watcher) abort() {
	w.once.Do(func() {
		close(w.aborted)
	})
}

// pop returns the next response; done reports a drained, finished stream.
func (w *watcher) pop() (resp store.WatchResponse, ok bool, done bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return resp, false, w.finished
	}
	resp = w.queue[0]
	w.queue = w.queue[1:]
	return resp, true, false
}

// replay queues the history from rev on, one response per revision.
func (w *watcher) replay(history []store.Event, rev int64) {
	var batch *store.WatchResponse
	for _, ev := range history {
		if ev.Revision < rev || !strings.HasPrefix(ev.Key, w.prefix) {
			continue
		}
		if batch != nil && batch.Revision != ev.Revision {
			w.queue = append(w.queue, *batch)
			batch = nil
		}
		if batch == nil {
			batch = &store.WatchResponse{Revision: ev.Revision}
		}
		batch.Events = append(batch.Events, ev)
	}
	if batch != nil {
		w.queue = append(w.queue, *batch)
	}
}
