package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/retry"
	"github.com/go-slark/discovery/pkg/routine"
	"github.com/go-slark/discovery/pkg/uid"
	"github.com/go-slark/discovery/store"
)

// session is one registration: a key bound to the lease the keepalive
// worker currently refreshes.
type session struct {
	ins    *Instance
	key    string
	value  []byte
	lease  atomic.Int64
	cancel context.CancelFunc
	done   <-chan struct{}
}

func (s *session) leaseID() store.LeaseID {
	return store.LeaseID(s.lease.Load())
}

func (s *session) stop() {
	s.cancel()
	<-s.done
}

// Registry publishes one instance under a lease and keeps it alive.
type Registry struct {
	store  store.Store
	opt    *option
	retry  *retry.Option
	mu     sync.Mutex
	sess   *session
	closed bool
}

var _ Registrar = (*Registry)(nil)

func NewRegistry(st store.Store, opts ...Option) *Registry {
	o := defaultOption().apply(opts...)
	return &Registry{
		store: st,
		opt:   o,
		retry: retry.NewOption(
			retry.Retry(o.retry),
			retry.Delay(o.retryDelay),
			retry.MaxDelay(o.interval/2),
			retry.MaxJitter(o.retryDelay),
			retry.Function(retry.Group(retry.BackOff, retry.Random)),
		),
	}
}

// Register writes ins under a fresh lease and starts refreshing it. An empty
// ins.ID is filled in. A previous registration of this Registry is revoked
// first.
func (r *Registry) Register(ctx context.Context, ins *Instance) error {
	if err := ins.Validate(); err != nil {
		return err
	}
	if ins.ID == "" {
		ins.ID = uid.GenerateID()
	}
	ins = ins.clone()
	value, err := Marshal(ins)
	if err != nil {
		return errors.InvalidInstance(err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.ErrClosed
	}
	if old := r.sess; old != nil {
		r.sess = nil
		old.stop()
		if err = r.revoke(ctx, old.leaseID()); err != nil {
			return errors.StoreUnavailable(err)
		}
	}

	s := &session{ins: ins, key: Key(r.opt.ns, ins.Name, ins.ID), value: value}
	id, err := r.grantAndPut(ctx, s.key, s.value)
	if err != nil {
		return err
	}
	s.lease.Store(int64(id))
	loop, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = routine.GoSafe(loop, func() {
		r.keepAlive(loop, s)
	})
	r.sess = s

	registrations.Values(ins.Name, "register").Inc()
	r.log(ctx, logger.InfoLevel, "instance registered", s, nil)
	return nil
}

// Unregister revokes the lease, which deletes the key at once. It is a no-op
// when nothing is registered.
func (r *Registry) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sess
	if s == nil {
		return nil
	}
	r.sess = nil
	s.stop()
	if err := r.revoke(ctx, s.leaseID()); err != nil {
		r.log(ctx, logger.ErrorLevel, "revoke lease", s, err)
		return errors.StoreUnavailable(err)
	}
	r.log(ctx, logger.InfoLevel, "instance unregistered", s, nil)
	return nil
}

// Close stops keepalive and revokes the lease best effort. A failed revoke
// leaves the key to expire with its ttl. Later Register calls fail.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	s := r.sess
	r.sess = nil
	if s == nil {
		return nil
	}
	s.stop()
	if err := r.revoke(ctx, s.leaseID()); err != nil {
		r.log(ctx, logger.WarnLevel, "revoke lease on close, key expires with its ttl", s, err)
		return errors.StoreUnavailable(err)
	}
	r.log(ctx, logger.InfoLevel, "registry closed", s, nil)
	return nil
}

// Instance returns a copy of the registered instance, nil when none is.
func (r *Registry) Instance() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.ins.clone()
}

// Lease returns the lease currently backing the registration.
func (r *Registry) Lease() store.LeaseID {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return store.NoLease
	}
	return r.sess.leaseID()
}

func (r *Registry) grantAndPut(ctx context.Context, key string, value []byte) (store.LeaseID, error) {
	var id store.LeaseID
	err := r.retry.RetryContext(ctx, func() error {
		cx, cancel := context.WithTimeout(ctx, r.opt.timeout)
		defer cancel()
		lid, err := r.store.Grant(cx, r.opt.ttl)
		if err != nil {
			return err
		}
		if err = r.store.Put(cx, key, value, lid); err != nil {
			_ = r.store.Revoke(cx, lid)
			return err
		}
		id = lid
		return nil
	})
	if err != nil {
		return store.NoLease, errors.StoreUnavailable(err)
	}
	return id, nil
}

func (r *Registry) revoke(ctx context.Context, id store.LeaseID) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opt.timeout)
	defer cancel()
	err := r.store.Revoke(ctx, id)
	if errors.Is(err, store.ErrLeaseNotFound) {
		return nil
	}
	return err
}

// refresh runs one keepalive round within the retry budget. A lease the
// store no longer knows ends the round at once.
func (r *Registry) refresh(ctx context.Context, s *session) error {
	return r.retry.RetryContext(ctx, func() error {
		cx, cancel := context.WithTimeout(ctx, r.opt.timeout)
		defer cancel()
		id := s.leaseID()
		ttl, err := r.store.KeepAliveOnce(cx, id)
		if errors.Is(err, store.ErrLeaseNotFound) || (err == nil && ttl <= 0) {
			return retry.Unrecoverable(errors.LeaseExpired(int64(id)))
		}
		return err
	})
}

// keepAlive refreshes the lease every interval. A round that fails is fatal
// for the lease: the instance is re-registered under a new one, and a failed
// re-registration is tried again on the next tick.
func (r *Registry) keepAlive(ctx context.Context, s *session) {
	ticker := time.NewTicker(r.opt.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := r.refresh(ctx, s)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		keepAliveFailures.Values(s.ins.Name).Inc()
		r.log(ctx, logger.WarnLevel, "keepalive failed, re-registering", s, err)

		id, err := r.grantAndPut(ctx, s.key, s.value)
		if err != nil {
			if ctx.Err() == nil {
				r.log(ctx, logger.ErrorLevel, "re-register failed", s, err)
			}
			continue
		}
		old := store.LeaseID(s.lease.Swap(int64(id)))
		if err = r.revoke(ctx, old); err != nil {
			r.log(ctx, logger.DebugLevel, "revoke stale lease", s, err)
		}
		registrations.Values(s.ins.Name, "keepalive").Inc()
		r.log(ctx, logger.InfoLevel, "instance re-registered", s, nil)
	}
}

func (r *Registry) log(ctx context.Context, level uint, msg string, s *session, err error) {
	fs := []logger.Field{logger.Service(s.ins.Name), logger.Key(s.key), logger.Lease(s.lease.Load())}
	if err != nil {
		fs = append(fs, logger.Error(err))
	}
	r.opt.logger.Log(ctx, level, logger.Fields(fs...), msg)
}
