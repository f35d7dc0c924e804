package registry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/store"
	"github.com/go-slark/discovery/store/memory"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func put(t *testing.T, st store.Store, ins *Instance) string {
	t.Helper()
	data, err := Marshal(ins)
	if err != nil {
		t.Fatal(err)
	}
	key := Key(ns, ins.Name, ins.ID)
	if err = st.Put(context.Background(), key, data, store.NoLease); err != nil {
		t.Fatal(err)
	}
	return key
}

func watch(t *testing.T, st store.Store, d *fakeDialer) (*Discovery, *Membership) {
	t.Helper()
	disc := NewDiscovery(st, options(d)...)
	if err := disc.Watch(context.Background(), "user.rpc"); err != nil {
		t.Fatal(err)
	}
	m, err := disc.Snapshot("user.rpc")
	if err != nil {
		t.Fatal(err)
	}
	return disc, m
}

func memberKeys(m *Membership) []string {
	var ks []string
	for _, mem := range m.Members() {
		ks = append(ks, mem.Key)
	}
	return ks
}

func TestWatchPutDelete(t *testing.T) {
	st := memory.New()
	defer st.Close()
	disc, m := watch(t, st, &fakeDialer{})
	defer disc.Close()

	changes := make(chan Change, 16)
	defer m.Subscribe(func(c Change) { changes <- c })()

	key := put(t, st, instance("1", "10.0.0.1:9000"))
	c := <-changes
	if c.Type != MemberInsert || c.Member.Key != key || m.Len() != 1 {
		t.Fatalf("change = %+v, len = %d", c, m.Len())
	}

	// same target keeps the connection
	ins := instance("1", "10.0.0.1:9000")
	ins.Version = "v1.0.1"
	put(t, st, ins)
	c = <-changes
	if c.Type != MemberUpdate || c.Member.Instance.Version != "v1.0.1" || m.Len() != 1 {
		t.Fatalf("change = %+v", c)
	}

	if err := st.Delete(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	c = <-changes
	if c.Type != MemberRemove || m.Len() != 0 {
		t.Fatalf("change = %+v", c)
	}
	if _, err := disc.Resolve("user.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("resolve after delete: %v", err)
	}
}

func TestTwoInstances(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	d := &fakeDialer{}

	r1 := NewRegistry(st, options(d)...)
	r2 := NewRegistry(st, options(d)...)
	defer r1.Close(ctx)
	defer r2.Close(ctx)
	a, b := instance("", "10.0.0.1:9000"), instance("", "10.0.0.2:9000")
	if err := r1.Register(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := r2.Register(ctx, b); err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("instance ids collide")
	}

	disc, m := watch(t, st, d)
	defer disc.Close()
	if m.Len() != 2 {
		t.Fatalf("len = %d", m.Len())
	}
	if err := r1.Unregister(ctx); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return m.Len() == 1 }, "unregistered instance still listed")
	mem, ok := m.Get(Key(ns, "user.rpc", b.ID))
	if !ok || mem.Target() != "10.0.0.2:9000" {
		t.Fatalf("remaining member = %+v", mem)
	}
}

func TestMalformedSkipped(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	disc, m := watch(t, st, &fakeDialer{})
	defer disc.Close()

	changes := make(chan Change, 16)
	defer m.Subscribe(func(c Change) { changes <- c })()

	_ = st.Put(ctx, Key(ns, "user.rpc", "bad"), []byte("{not json"), store.NoLease)
	_ = st.Put(ctx, Key(ns, "user.rpc", "other"), []byte(`{"id":"other","name":"order.rpc","endpoints":["10.0.0.8:9000"]}`), store.NoLease)
	key := put(t, st, instance("good", "10.0.0.1:9000"))

	c := <-changes
	if c.Member.Key != key {
		t.Fatalf("first change for %s", c.Member.Key)
	}
	if diff := cmp.Diff([]string{key}, memberKeys(m)); diff != "" {
		t.Fatalf("members (-want +got):\n%s", diff)
	}
}

func TestConnectFailed(t *testing.T) {
	st := memory.New()
	defer st.Close()
	d := &fakeDialer{fail: map[string]bool{}}
	disc, m := watch(t, st, d)
	defer disc.Close()

	changes := make(chan Change, 16)
	defer m.Subscribe(func(c Change) { changes <- c })()

	key := put(t, st, instance("1", "10.0.0.1:9000"))
	<-changes

	// moving to an unreachable address drops the member
	d.refuse("10.0.0.9:9000")
	put(t, st, instance("1", "10.0.0.9:9000"))
	c := <-changes
	if c.Type != MemberRemove || c.Member.Key != key {
		t.Fatalf("change = %+v", c)
	}
	if _, err := disc.Resolve("user.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("resolve = %v", err)
	}
}

func TestRedialUnreachable(t *testing.T) {
	st := memory.New()
	defer st.Close()
	d := &fakeDialer{fail: map[string]bool{}}
	d.refuse("10.0.0.1:9000")
	key := put(t, st, instance("1", "10.0.0.1:9000"))
	disc, m := watch(t, st, d)
	defer disc.Close()

	if _, err := disc.Resolve("user.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("resolve = %v", err)
	}
	// no new event arrives for the key, the watcher dials it again on its own
	d.allow("10.0.0.1:9000")
	eventually(t, func() bool {
		conn, err := disc.Resolve("user.rpc")
		return err == nil && conn.Target() == "10.0.0.1:9000"
	}, "reachable instance never joined")
	if diff := cmp.Diff([]string{key}, memberKeys(m)); diff != "" {
		t.Fatalf("members (-want +got):\n%s", diff)
	}
}

func TestRedialDropped(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	d := &fakeDialer{fail: map[string]bool{}}
	d.refuse("10.0.0.1:9000")
	key := put(t, st, instance("1", "10.0.0.1:9000"))
	disc, m := watch(t, st, d)
	defer disc.Close()

	changes := make(chan Change, 16)
	defer m.Subscribe(func(c Change) { changes <- c })()

	if err := st.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	// a later record proves the delete was applied
	other := put(t, st, instance("2", "10.0.0.2:9000"))
	if c := <-changes; c.Member.Key != other {
		t.Fatalf("change = %+v", c)
	}
	d.allow("10.0.0.1:9000")
	time.Sleep(100 * time.Millisecond)
	if diff := cmp.Diff([]string{other}, memberKeys(m)); diff != "" {
		t.Fatalf("deleted record rejoined (-want +got):\n%s", diff)
	}
}

func TestWatchResume(t *testing.T) {
	st := memory.New()
	defer st.Close()
	disc, m := watch(t, st, &fakeDialer{})
	defer disc.Close()

	put(t, st, instance("1", "10.0.0.1:9000"))
	eventually(t, func() bool { return m.Len() == 1 }, "first put not applied")

	st.DropWatches()
	put(t, st, instance("2", "10.0.0.2:9000"))
	eventually(t, func() bool { return m.Len() == 2 }, "put after a broken stream lost")
}

func TestWatchResync(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()
	k1 := put(t, st, instance("1", "10.0.0.1:9000"))
	disc, m := watch(t, st, &fakeDialer{})
	defer disc.Close()
	if m.Len() != 1 {
		t.Fatalf("len = %d", m.Len())
	}

	// changes land while the stream is down and their history is compacted
	st.DropWatches()
	_ = st.Delete(ctx, k1)
	k2 := put(t, st, instance("2", "10.0.0.2:9000"))
	st.Compact(st.Revision())

	eventually(t, func() bool {
		ks := memberKeys(m)
		return len(ks) == 1 && ks[0] == k2
	}, "membership did not converge after compaction")
	k3 := put(t, st, instance("3", "10.0.0.3:9000"))
	eventually(t, func() bool {
		_, ok := m.Get(k3)
		return ok
	}, "watch not resumed after resync")
}

func TestResolve(t *testing.T) {
	st := memory.New()
	defer st.Close()
	put(t, st, instance("1", "10.0.0.1:9000"))
	put(t, st, instance("2", "10.0.0.2:9000"))
	disc, _ := watch(t, st, &fakeDialer{})
	defer disc.Close()

	if _, err := disc.Resolve("order.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("unwatched service: %v", err)
	}
	empty := memory.New()
	defer empty.Close()
	none, _ := watch(t, empty, &fakeDialer{})
	defer none.Close()
	_, err := none.Resolve("user.rpc")
	if !errors.IsNotFound(err) || strings.Count(err.Error(), "no live instance") != 1 {
		t.Fatalf("resolve without instances: %v", err)
	}
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		conn, err := disc.Resolve("user.rpc")
		if err != nil {
			t.Fatal(err)
		}
		seen[conn.Target()] = true
	}
	if !seen["10.0.0.1:9000"] || !seen["10.0.0.2:9000"] {
		t.Fatalf("resolved %v", seen)
	}
	pool, err := disc.Pool("user.rpc")
	if err != nil || pool.Len() != 2 {
		t.Fatalf("pool %v %v", pool, err)
	}
	if err = disc.Watch(context.Background(), "user.rpc"); err != nil {
		t.Fatal(err)
	}
	if err = disc.Watch(context.Background(), "a/b"); err == nil {
		t.Fatal("invalid service name watched")
	}
}

func TestDiscoveryClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	st := memory.New()
	defer st.Close()
	put(t, st, instance("1", "10.0.0.1:9000"))
	disc, m := watch(t, st, &fakeDialer{})
	if m.Len() != 1 {
		t.Fatal("not synced")
	}
	if err := disc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := disc.Resolve("user.rpc"); !errors.Is(err, errors.ErrClosed) {
		t.Fatalf("resolve after close: %v", err)
	}
	if err := disc.Watch(context.Background(), "user.rpc"); !errors.Is(err, errors.ErrClosed) {
		t.Fatalf("watch after close: %v", err)
	}
}

func TestWatchStoreDown(t *testing.T) {
	st := memory.New()
	_ = st.Close()
	disc := NewDiscovery(st, options(&fakeDialer{})...)
	defer disc.Close()
	if err := disc.Watch(context.Background(), "user.rpc"); !errors.IsStoreUnavailable(err) {
		t.Fatalf("err = %v", err)
	}
	if _, err := disc.Snapshot("user.rpc"); !errors.IsNotFound(err) {
		t.Fatalf("snapshot = %v", err)
	}
}
