// Package memory is an in-process store.Store with revisions, leases and
// resumable watches. It backs tests and single-process deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-slark/discovery/store"
)

type Option func(*Store)

// TTLUnit sets the duration of one ttl unit, one second by default.
func TTLUnit(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.unit = d
		}
	}
}

type lease struct {
	id       store.LeaseID
	ttl      int64
	deadline time.Time
	keys     map[string]struct{}
	timer    *time.Timer
}

type Store struct {
	mu        sync.Mutex
	unit      time.Duration
	rev       int64
	compacted int64
	nextLease int64
	kvs       map[string]*store.KeyValue
	leases    map[store.LeaseID]*lease
	history   []store.Event
	watchers  map[*watcher]struct{}
	closed    bool
}

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		unit:     time.Second,
		kvs:      make(map[string]*store.KeyValue),
		leases:   make(map[store.LeaseID]*lease),
		watchers: make(map[*watcher]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Get(ctx context.Context, prefix string) ([]*store.KeyValue, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, 0, store.ErrClosed
	}
	kvs := make([]*store.KeyValue, 0)
	for k, kv := range s.kvs {
		if strings.HasPrefix(k, prefix) {
			c := *kv
			c.Value = append([]byte(nil), kv.Value...)
			kvs = append(kvs, &c)
		}
	}
	sort.Slice(kvs, func(i, j int) bool {
		return kvs[i].Key < kvs[j].Key
	})
	return kvs, s.rev, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, id store.LeaseID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	var l *lease
	if id != store.NoLease {
		var ok bool
		if l, ok = s.leases[id]; !ok {
			return store.ErrLeaseNotFound
		}
	}
	if old, ok := s.kvs[key]; ok && old.Lease != store.NoLease {
		if ol, ok := s.leases[old.Lease]; ok {
			delete(ol.keys, key)
		}
	}
	s.rev++
	s.kvs[key] = &store.KeyValue{
		Key:         key,
		Value:       append([]byte(nil), value...),
		ModRevision: s.rev,
		Lease:       id,
	}
	if l != nil {
		l.keys[key] = struct{}{}
	}
	s.publish(store.Event{Type: store.EventPut, Key: key, Value: append([]byte(nil), value...), Revision: s.rev})
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.kvs[key]; !ok {
		return nil
	}
	s.rev++
	s.publish(s.remove(key))
	return nil
}

func (s *Store) Grant(ctx context.Context, ttl int64) (store.LeaseID, error) {
	if err := ctx.Err(); err != nil {
		return store.NoLease, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.NoLease, store.ErrClosed
	}
	s.nextLease++
	id := store.LeaseID(s.nextLease)
	d := time.Duration(ttl) * s.unit
	l := &lease{
		id:       id,
		ttl:      ttl,
		deadline: time.Now().Add(d),
		keys:     make(map[string]struct{}),
	}
	l.timer = time.AfterFunc(d, func() {
		s.expire(id, false)
	})
	s.leases[id] = l
	return id, nil
}

func (s *Store) KeepAliveOnce(ctx context.Context, id store.LeaseID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	l, ok := s.leases[id]
	if !ok {
		return 0, store.ErrLeaseNotFound
	}
	d := time.Duration(l.ttl) * s.unit
	l.deadline = time.Now().Add(d)
	l.timer.Reset(d)
	return l.ttl, nil
}

func (s *Store) Revoke(ctx context.Context, id store.LeaseID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	_, ok := s.leases[id]
	s.mu.Unlock()
	if closed {
		return store.ErrClosed
	}
	if !ok {
		return store.ErrLeaseNotFound
	}
	s.expire(id, true)
	return nil
}

// Expire drops a lease and its keys at once, as if its ttl ran out.
func (s *Store) Expire(id store.LeaseID) {
	s.expire(id, true)
}

func (s *Store) expire(id store.LeaseID, force bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok || s.closed {
		return
	}
	// a refresh raced with the timer
	if !force && time.Now().Before(l.deadline) {
		return
	}
	l.timer.Stop()
	delete(s.leases, id)
	if len(l.keys) == 0 {
		return
	}
	keys := make([]string, 0, len(l.keys))
	for k := range l.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.rev++
	evs := make([]store.Event, 0, len(keys))
	for _, k := range keys {
		evs = append(evs, s.remove(k))
	}
	s.publish(evs...)
}

// Leases returns the ids of the live leases.
func (s *Store) Leases() []store.LeaseID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]store.LeaseID, 0, len(s.leases))
	for id := range s.leases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// Revision returns the current store revision.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Compact discards history up to and including rev. Watches asking for a
// compacted revision fail with store.ErrCompacted.
func (s *Store) Compact(rev int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev > s.rev {
		rev = s.rev
	}
	if rev <= s.compacted {
		return
	}
	s.compacted = rev
	i := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].Revision > rev
	})
	s.history = append([]store.Event(nil), s.history[i:]...)
}

// DropWatches ends every open watch stream without an error, the way a
// broken connection does.
func (s *Store) DropWatches() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		w.abort()
		delete(s.watchers, w)
	}
}

func (s *Store) Watch(ctx context.Context, prefix string, rev int64) <-chan store.WatchResponse {
	w := newWatcher(prefix)
	s.mu.Lock()
	switch {
	case s.closed:
		w.abort()
	case rev > 0 && rev <= s.compacted:
		w.push(store.WatchResponse{Revision: s.compacted, Err: store.ErrCompacted})
		w.finish()
	default:
		if rev > 0 {
			w.replay(s.history, rev)
		}
		s.watchers[w] = struct{}{}
	}
	s.mu.Unlock()
	go s.serve(ctx, w)
	return w.ch
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, l := range s.leases {
		l.timer.Stop()
	}
	for w := range s.watchers {
		w.abort()
		delete(s.watchers, w)
	}
	return nil
}

// remove deletes key at the current revision and returns the event.
func (s *Store) remove(key string) store.Event {
	if kv, ok := s.kvs[key]; ok && kv.Lease != store.NoLease {
		if l, ok := s.leases[kv.Lease]; ok {
			delete(l.keys, key)
		}
	}
	delete(s.kvs, key)
	return store.Event{Type: store.EventDelete, Key: key, Revision: s.rev}
}

func (s *Store) publish(evs ...store.Event) {
	s.history = append(s.history, evs...)
	for w := range s.watchers {
		matched := make([]store.Event, 0, len(evs))
		for _, ev := range evs {
			if strings.HasPrefix(ev.Key, w.prefix) {
				matched = append(matched, ev)
			}
		}
		if len(matched) != 0 {
			w.push(store.WatchResponse{Events: matched, Revision: s.rev})
		}
	}
}

func (s *Store) serve(ctx context.Context, w *watcher) {
	defer close(w.ch)
	defer func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()
	}()
	for {
		resp, ok, done := w.pop()
		if done {
			return
		}
		if !ok {
			select {
			case <-w.notify:
				continue
			case <-w.aborted:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case w.ch <- resp:
		case <-w.aborted:
			return
		case <-ctx.Done():
			return
		}
	}
}
