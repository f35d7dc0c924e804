package registry

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/store"
	"github.com/go-slark/discovery/store/memory"
	"go.uber.org/goleak"
)

// flakyStore fails lease calls while down is set, fails the next fails
// keepalives and acknowledges keepalives with no ttl left while expired is set.
type flakyStore struct {
	*memory.Store
	down    atomic.Bool
	fails   atomic.Int32
	expired atomic.Bool
}

var errDown = errors.New("store unreachable")

func (f *flakyStore) Grant(ctx context.Context, ttl int64) (store.LeaseID, error) {
	if f.down.Load() {
		return store.NoLease, errDown
	}
	return f.Store.Grant(ctx, ttl)
}

func (f *flakyStore) KeepAliveOnce(ctx context.Context, id store.LeaseID) (int64, error) {
	if f.down.Load() {
		return 0, errDown
	}
	for n := f.fails.Load(); n > 0; n = f.fails.Load() {
		if f.fails.CompareAndSwap(n, n-1) {
			return 0, errDown
		}
	}
	ttl, err := f.Store.KeepAliveOnce(ctx, id)
	if err == nil && f.expired.Load() {
		return 0, nil
	}
	return ttl, err
}

func keys(t *testing.T, st store.Store) []string {
	t.Helper()
	kvs, _, err := st.Get(context.Background(), Prefix(ns, "user.rpc"))
	if err != nil {
		t.Fatal(err)
	}
	ks := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		ks = append(ks, kv.Key)
	}
	return ks
}

func TestRegisterResolvable(t *testing.T) {
	ctx := context.Background()
	st := newMemory()
	defer st.Close()
	d := &fakeDialer{fail: map[string]bool{}}

	r := NewRegistry(st, options(d)...)
	defer r.Close(ctx)
	ins := instance("", "10.0.0.1:9000")
	if err := r.Register(ctx, ins); err != nil {
		t.Fatal(err)
	}
	if ins.ID == "" {
		t.Fatal("id not generated")
	}

	disc := NewDiscovery(st, options(d)...)
	defer disc.Close()
	if err := disc.Watch(ctx, "user.rpc"); err != nil {
		t.Fatal(err)
	}
	conn, err := disc.Resolve("user.rpc")
	if err != nil {
		t.Fatal(err)
	}
	if conn.Target() != "10.0.0.1:9000" {
		t.Fatalf("target = %s", conn.Target())
	}

	// the lease outlives several ttls while keepalive runs
	time.Sleep(300 * time.Millisecond)
	if ks := keys(t, st); len(ks) != 1 || ks[0] != Key(ns, "user.rpc", ins.ID) {
		t.Fatalf("keys = %v", ks)
	}
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Unregister(ctx); err != nil {
		t.Fatalf("unregister before register: %v", err)
	}
	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister(ctx); err != nil {
		t.Fatal(err)
	}
	if ks := keys(t, st); len(ks) != 0 {
		t.Fatalf("key survived unregister: %v", ks)
	}
	if len(st.Leases()) != 0 {
		t.Fatal("lease survived unregister")
	}
	if err := r.Unregister(ctx); err != nil {
		t.Fatalf("second unregister: %v", err)
	}
}

func TestKeepAliveLapse(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: newMemory()}
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	st.down.Store(true)
	eventually(t, func() bool { return len(keys(t, st)) == 0 }, "key outlived its lease")

	disc := NewDiscovery(st, options(&fakeDialer{fail: map[string]bool{}})...)
	defer disc.Close()
	if err := disc.Watch(ctx, "user.rpc"); err != nil {
		t.Fatal(err)
	}
	if _, err := disc.Resolve("user.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("resolve after lapse: %v", err)
	}

	// the worker keeps trying and comes back once the store does
	st.down.Store(false)
	eventually(t, func() bool {
		_, err := disc.Resolve("user.rpc")
		return err == nil
	}, "instance not re-registered")
}

func TestLeaseExpiredReRegisters(t *testing.T) {
	ctx := context.Background()
	st := newMemory()
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	old := r.Lease()
	st.Expire(old)
	eventually(t, func() bool {
		l := r.Lease()
		return l != old && l != store.NoLease && len(keys(t, st)) == 1
	}, "lease not replaced")
}

func TestKeepAliveNoTTLLeft(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: newMemory()}
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	old := r.Lease()
	st.expired.Store(true)
	eventually(t, func() bool {
		l := r.Lease()
		return l != old && l != store.NoLease
	}, "ack without ttl counted as a refresh")
	st.expired.Store(false)
	eventually(t, func() bool { return len(keys(t, st)) == 1 }, "record not re-put")
}

func TestKeepAliveTransientFailure(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: newMemory()}
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	old := r.Lease()
	// one failed attempt is retried within the same round
	st.fails.Store(1)
	eventually(t, func() bool { return st.fails.Load() == 0 }, "keepalive not attempted")
	time.Sleep(100 * time.Millisecond)
	if l := r.Lease(); l != old {
		t.Fatalf("lease %d replaced by %d after a transient failure", old, l)
	}
	if ks := keys(t, st); len(ks) != 1 {
		t.Fatalf("keys = %v", ks)
	}
}

func TestRegisterAgain(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, instance("2", "10.0.0.2:9000")); err != nil {
		t.Fatal(err)
	}
	if ks := keys(t, st); len(ks) != 1 || ks[0] != Key(ns, "user.rpc", "2") {
		t.Fatalf("keys = %v", ks)
	}
	if n := len(st.Leases()); n != 1 {
		t.Fatalf("%d leases", n)
	}
	if got := r.Instance(); got == nil || got.ID != "2" {
		t.Fatalf("instance = %+v", got)
	}
}

func TestRegistryClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	st := newMemory()
	defer st.Close()
	r := NewRegistry(st, options(&fakeDialer{})...)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if ks := keys(t, st); len(ks) != 0 {
		t.Fatalf("key survived close: %v", ks)
	}
	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); !errors.Is(err, errors.ErrClosed) {
		t.Fatalf("register after close: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterStoreDown(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: memory.New()}
	defer st.Close()
	st.down.Store(true)
	r := NewRegistry(st, options(&fakeDialer{})...)
	defer r.Close(ctx)

	if err := r.Register(ctx, instance("1", "10.0.0.1:9000")); !errors.IsStoreUnavailable(err) {
		t.Fatalf("err = %v", err)
	}
	if err := r.Register(ctx, &Instance{Name: "user.rpc"}); !errors.Is(err, errors.ErrInvalidInstance) {
		t.Fatalf("err = %v", err)
	}
}
