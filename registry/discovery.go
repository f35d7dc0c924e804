package registry

import (
	"context"
	"sync"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/retry"
	"github.com/go-slark/discovery/pkg/routine"
	"github.com/go-slark/discovery/pkg/sf"
	"github.com/go-slark/discovery/store"
	"github.com/go-slark/discovery/transport/grpc/balancer"
	"golang.org/x/time/rate"
)

// Discovery watches services in the store and keeps a connection pool per
// service in step with their live instances.
type Discovery struct {
	store    store.Store
	opt      *option
	sf       *sf.SingleFlight
	mu       sync.RWMutex
	watchers map[string]*watcher
	closed   bool
}

var _ Resolver = (*Discovery)(nil)

func NewDiscovery(st store.Store, opts ...Option) *Discovery {
	return &Discovery{
		store:    st,
		opt:      defaultOption().apply(opts...),
		sf:       sf.NewSingleFlight(),
		watchers: make(map[string]*watcher),
	}
}

// Watch loads the current instances of name and keeps following changes
// until Close. Watching an already watched service is a no-op.
func (d *Discovery) Watch(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if w, err := d.watcher(name); w != nil || errors.Is(err, errors.ErrClosed) {
		return err
	}
	_, err := d.sf.Do(name, func() (any, error) {
		if w, err := d.watcher(name); w != nil || errors.Is(err, errors.ErrClosed) {
			return nil, err
		}
		w := newWatcher(d, name)
		if err := w.sync(ctx); err != nil {
			w.close()
			return nil, err
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			w.close()
			return nil, errors.ErrClosed
		}
		d.watchers[name] = w
		d.mu.Unlock()
		w.start()
		return nil, nil
	})
	return err
}

func (d *Discovery) watcher(name string) (*watcher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errors.ErrClosed
	}
	w, ok := d.watchers[name]
	if !ok {
		return nil, errors.NotFound(name)
	}
	return w, nil
}

// Resolve picks a connection to one live instance of name. It never waits:
// an unwatched service or one without connected instances is NotFound.
func (d *Discovery) Resolve(name string) (balancer.Conn, error) {
	w, err := d.watcher(name)
	if err != nil {
		return nil, err
	}
	return w.pool.Pick(context.Background())
}

// Snapshot exposes the live membership of a watched service.
func (d *Discovery) Snapshot(name string) (*Membership, error) {
	w, err := d.watcher(name)
	if err != nil {
		return nil, err
	}
	return w.members, nil
}

// Pool returns the connection pool of a watched service. It routes every
// call to a live instance and can be used as a grpc.ClientConnInterface.
func (d *Discovery) Pool(name string) (*balancer.Pool, error) {
	w, err := d.watcher(name)
	if err != nil {
		return nil, err
	}
	return w.pool, nil
}

// Services lists the watched service names.
func (d *Discovery) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.watchers))
	for name := range d.watchers {
		names = append(names, name)
	}
	return names
}

// Close stops every watch worker and closes the pools.
func (d *Discovery) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	ws := d.watchers
	d.watchers = make(map[string]*watcher)
	d.mu.Unlock()
	for _, w := range ws {
		w.close()
	}
	return nil
}

// watcher follows one service prefix. Its run loop is the only writer of
// members, pool and pending once started.
type watcher struct {
	store   store.Store
	opt     *option
	name    string
	prefix  string
	rev     int64
	members *Membership
	pool    *balancer.Pool
	limiter *rate.Limiter
	backoff *retry.Option
	pending map[string]*redial
	dialed  chan dialed
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// redial is a live record whose endpoint could not be reached yet.
type redial struct {
	ins     *Instance
	target  string
	md      map[string]string
	attempt int
	at      time.Time
	dialing bool
}

type dialed struct {
	key  string
	r    *redial
	conn balancer.Conn
	err  error
}

func newWatcher(d *Discovery, name string) *watcher {
	opts := append([]balancer.Option{balancer.WithLogger(d.opt.logger)}, d.opt.pool...)
	return &watcher{
		store:   d.store,
		opt:     d.opt,
		name:    name,
		prefix:  Prefix(d.opt.ns, name),
		members: newMembership(name),
		pool:    balancer.New(name, opts...),
		limiter: rate.NewLimiter(d.opt.limit, d.opt.burst),
		backoff: retry.NewOption(
			retry.Delay(d.opt.retryDelay),
			retry.MaxDelay(d.opt.interval),
			retry.MaxJitter(d.opt.retryDelay),
			retry.Function(retry.Group(retry.BackOff, retry.Random)),
		),
		pending: make(map[string]*redial),
		dialed:  make(chan dialed),
	}
}

// sync reads the prefix and makes members equal to it.
func (w *watcher) sync(ctx context.Context) error {
	cx, cancel := context.WithTimeout(ctx, w.opt.timeout)
	kvs, rev, err := w.store.Get(cx, w.prefix)
	cancel()
	if err != nil {
		return errors.StoreUnavailable(err)
	}
	seen := make(map[string]struct{}, len(kvs))
	for _, kv := range kvs {
		seen[kv.Key] = struct{}{}
		w.put(ctx, kv.Key, kv.Value)
	}
	for _, m := range w.members.Members() {
		if _, ok := seen[m.Key]; !ok {
			w.delete(ctx, m.Key)
		}
	}
	for key := range w.pending {
		if _, ok := seen[key]; !ok {
			delete(w.pending, key)
		}
	}
	w.rev = rev
	w.log(ctx, logger.InfoLevel, "membership synced", logger.Revision(rev))
	return nil
}

func (w *watcher) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = routine.GoSafe(ctx, func() {
		w.run(ctx)
	})
}

func (w *watcher) close() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
		w.wg.Wait()
	}
	_ = w.pool.Close()
	memberGauge.Values(w.name).Set(0)
}

// run resumes the watch right after the last applied revision whenever the
// stream ends. A compacted revision forces a fresh read of the prefix.
func (w *watcher) run(ctx context.Context) {
	for {
		compacted := w.consume(ctx, w.store.Watch(ctx, w.prefix, w.rev+1))
		if ctx.Err() != nil {
			return
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		if !compacted {
			watchRestarts.Values(w.name, "resume").Inc()
			w.log(ctx, logger.InfoLevel, "watch resumed", logger.Revision(w.rev+1))
			continue
		}
		watchRestarts.Values(w.name, "resync").Inc()
		if err := w.sync(ctx); err != nil {
			w.log(ctx, logger.WarnLevel, "resync after compaction", logger.Error(err))
		}
	}
}

// consume applies events until the stream closes and reports whether it
// ended on compaction. Pending redials are started and finished in between.
func (w *watcher) consume(ctx context.Context, ch <-chan store.WatchResponse) bool {
	t := time.NewTimer(0)
	t.Stop()
	defer t.Stop()
	for {
		var wake <-chan time.Time
		if d, ok := w.nextRedial(); ok {
			t.Reset(d)
			wake = t.C
		}
		select {
		case resp, ok := <-ch:
			if !ok {
				return false
			}
			if resp.Err != nil {
				if errors.Is(resp.Err, store.ErrCompacted) {
					w.log(ctx, logger.WarnLevel, "watch revision compacted", logger.Revision(w.rev+1))
					return true
				}
				w.log(ctx, logger.WarnLevel, "watch broken", logger.Error(resp.Err))
				return false
			}
			w.events(ctx, resp)
		case d := <-w.dialed:
			w.finish(ctx, d)
		case <-wake:
			w.redialDue(ctx)
		}
	}
}

func (w *watcher) events(ctx context.Context, resp store.WatchResponse) {
	for _, ev := range resp.Events {
		switch ev.Type {
		case store.EventPut:
			w.put(ctx, ev.Key, ev.Value)
		case store.EventDelete:
			w.delete(ctx, ev.Key)
		}
		watchEvents.Values(w.name, ev.Type.String()).Inc()
		if ev.Revision > w.rev {
			w.rev = ev.Revision
		}
	}
	if resp.Revision > w.rev {
		w.rev = resp.Revision
	}
}

// put upserts the member under key. A record keeping its target keeps its
// connection; a new target is dialed before the member changes.
func (w *watcher) put(ctx context.Context, key string, value []byte) {
	delete(w.pending, key)
	ins, err := Unmarshal(value)
	if err == nil && ins.Name != w.name {
		err = errors.Errorf("record names service %q", ins.Name)
	}
	var target string
	if err == nil {
		target, err = ins.Target()
	}
	if err != nil {
		malformedRecords.Values(w.name).Inc()
		w.log(ctx, logger.WarnLevel, "skip instance record", logger.Key(key), logger.Error(errors.MalformedRecord(key, err)))
		return
	}

	if m, ok := w.members.Get(key); ok && m.Target() == target {
		w.apply(&Member{Key: key, Instance: ins, Conn: m.Conn})
		return
	}
	md := make(map[string]string, len(ins.Metadata)+1)
	for k, v := range ins.Metadata {
		md[k] = v
	}
	md["version"] = ins.Version
	if err = w.pool.Insert(ctx, key, target, md); err != nil {
		connectFailures.Values(w.name).Inc()
		w.log(ctx, logger.WarnLevel, "connect instance", logger.Key(key), logger.Target(target), logger.Error(err))
		// the record moved to an address we cannot reach
		w.delete(ctx, key)
		w.schedule(ctx, key, &redial{ins: ins, target: target, md: md})
		return
	}
	h, ok := w.pool.Get(key)
	if !ok {
		return
	}
	w.apply(&Member{Key: key, Instance: ins, Conn: h})
}

func (w *watcher) apply(m *Member) {
	t := w.members.set(m)
	memberGauge.Values(w.name).Set(float64(w.members.Len()))
	w.members.notify(Change{Type: t, Member: m})
}

// delete drops key from routing and membership; unknown keys are ignored.
func (w *watcher) delete(ctx context.Context, key string) {
	delete(w.pending, key)
	w.pool.Remove(key)
	m, ok := w.members.delete(key)
	if !ok {
		return
	}
	memberGauge.Values(w.name).Set(float64(w.members.Len()))
	w.log(ctx, logger.InfoLevel, "instance removed", logger.Key(key), logger.Target(m.Target()))
	w.members.notify(Change{Type: MemberRemove, Member: m})
}

func (w *watcher) schedule(ctx context.Context, key string, r *redial) {
	r.attempt++
	r.at = time.Now().Add(w.backoff.Delay(ctx, r.attempt))
	w.pending[key] = r
}

func (w *watcher) nextRedial() (time.Duration, bool) {
	var next time.Time
	for _, r := range w.pending {
		if !r.dialing && (next.IsZero() || r.at.Before(next)) {
			next = r.at
		}
	}
	if next.IsZero() {
		return 0, false
	}
	return max(time.Until(next), 0), true
}

// redialDue dials every pending record whose backoff elapsed. Dials run
// beside the watch so an unreachable endpoint does not hold up events.
func (w *watcher) redialDue(ctx context.Context) {
	now := time.Now()
	for key, r := range w.pending {
		if r.dialing || r.at.After(now) {
			continue
		}
		r.dialing = true
		w.wg.Add(1)
		routine.GoSafe(ctx, func() {
			defer w.wg.Done()
			conn, err := w.pool.Dial(ctx, r.target)
			select {
			case w.dialed <- dialed{key: key, r: r, conn: conn, err: err}:
			case <-ctx.Done():
				if conn != nil {
					_ = conn.Close()
				}
			}
		})
	}
}

// finish applies a redial result unless a later event replaced the record.
func (w *watcher) finish(ctx context.Context, d dialed) {
	if w.pending[d.key] != d.r {
		if d.conn != nil {
			_ = d.conn.Close()
		}
		return
	}
	if d.err != nil {
		d.r.dialing = false
		connectFailures.Values(w.name).Inc()
		w.log(ctx, logger.DebugLevel, "redial instance", logger.Key(d.key), logger.Target(d.r.target), logger.Error(d.err))
		w.schedule(ctx, d.key, d.r)
		return
	}
	delete(w.pending, d.key)
	if err := w.pool.Add(d.key, d.r.target, d.r.md, d.conn); err != nil {
		return
	}
	h, ok := w.pool.Get(d.key)
	if !ok {
		return
	}
	w.log(ctx, logger.InfoLevel, "instance reconnected", logger.Key(d.key), logger.Target(d.r.target))
	w.apply(&Member{Key: d.key, Instance: d.r.ins, Conn: h})
}

func (w *watcher) log(ctx context.Context, level uint, msg string, fs ...logger.Field) {
	w.opt.logger.Log(ctx, level, logger.Fields(append(fs, logger.Service(w.name))...), msg)
}
