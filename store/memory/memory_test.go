package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-slark/discovery/store"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func next(t *testing.T, ch <-chan store.WatchResponse) store.WatchResponse {
	t.Helper()
	select {
	case resp, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no watch response")
	}
	return store.WatchResponse{}
}

func TestGetPrefix(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	for _, k := range []string{"/ns/user/b", "/ns/user/a", "/ns/user.rpc/c", "/ns/order/d"} {
		if err := s.Put(ctx, k, []byte(k), store.NoLease); err != nil {
			t.Fatal(err)
		}
	}
	kvs, rev, err := s.Get(ctx, "/ns/user/")
	if err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	if diff := cmp.Diff([]string{"/ns/user/a", "/ns/user/b"}, keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if rev != 4 {
		t.Fatalf("rev = %d, want 4", rev)
	}
}

func TestLeaseExpiry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	s := New(TTLUnit(20 * time.Millisecond))
	defer s.Close()

	id, err := s.Grant(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Put(ctx, "/ns/svc/1", []byte("v"), id); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		ttl, err := s.KeepAliveOnce(ctx, id)
		if err != nil || ttl != 2 {
			t.Fatalf("keepalive ttl = %d, err = %v", ttl, err)
		}
	}
	kvs, _, _ := s.Get(ctx, "/ns/svc/")
	if len(kvs) != 1 {
		t.Fatal("key expired despite keepalive")
	}

	time.Sleep(120 * time.Millisecond)
	kvs, _, _ = s.Get(ctx, "/ns/svc/")
	if len(kvs) != 0 {
		t.Fatal("key survived lease expiry")
	}
	if _, err = s.KeepAliveOnce(ctx, id); !errors.Is(err, store.ErrLeaseNotFound) {
		t.Fatalf("keepalive after expiry: %v", err)
	}
}

func TestPutUnknownLease(t *testing.T) {
	s := New()
	defer s.Close()
	if err := s.Put(context.Background(), "k", nil, 42); !errors.Is(err, store.ErrLeaseNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	ch := s.Watch(ctx, "/ns/svc/", 0)
	id, _ := s.Grant(ctx, 60)
	_ = s.Put(ctx, "/ns/svc/1", []byte("a"), id)
	_ = s.Put(ctx, "/ns/svc/2", []byte("b"), id)
	if err := s.Revoke(ctx, id); err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(ctx, id); !errors.Is(err, store.ErrLeaseNotFound) {
		t.Fatalf("second revoke: %v", err)
	}

	next(t, ch)
	next(t, ch)
	resp := next(t, ch)
	if len(resp.Events) != 2 || resp.Events[0].Type != store.EventDelete || resp.Events[1].Type != store.EventDelete {
		t.Fatalf("revoke events = %+v", resp.Events)
	}
	if len(s.Leases()) != 0 {
		t.Fatal("lease still live")
	}
}

func TestWatchResume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()
	defer s.Close()

	_ = s.Put(ctx, "/ns/svc/1", []byte("a"), store.NoLease)
	_ = s.Put(ctx, "/ns/other/1", []byte("x"), store.NoLease)
	_ = s.Delete(ctx, "/ns/svc/1")
	_ = s.Put(ctx, "/ns/svc/2", []byte("b"), store.NoLease)

	ch := s.Watch(ctx, "/ns/svc/", 1)
	var got []store.Event
	for i := 0; i < 3; i++ {
		got = append(got, next(t, ch).Events...)
	}
	want := []store.Event{
		{Type: store.EventPut, Key: "/ns/svc/1", Value: []byte("a"), Revision: 1},
		{Type: store.EventDelete, Key: "/ns/svc/1", Revision: 3},
		{Type: store.EventPut, Key: "/ns/svc/2", Value: []byte("b"), Revision: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestWatchCompacted(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	for i := 0; i < 3; i++ {
		_ = s.Put(ctx, "/ns/svc/1", []byte{byte(i)}, store.NoLease)
	}
	s.Compact(2)
	ch := s.Watch(ctx, "/ns/svc/", 1)
	resp := next(t, ch)
	if !errors.Is(resp.Err, store.ErrCompacted) {
		t.Fatalf("err = %v", resp.Err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel open after compaction error")
	}

	ch = s.Watch(ctx, "/ns/svc/", 3)
	if resp = next(t, ch); resp.Revision != 3 {
		t.Fatalf("rev = %d, want 3", resp.Revision)
	}
	s.DropWatches()
}

func TestDropWatches(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	s := New()
	ch := s.Watch(context.Background(), "/", 0)
	s.DropWatches()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected response")
		}
	case <-time.After(time.Second):
		t.Fatal("watch not dropped")
	}
	_ = s.Close()
	if _, _, err := s.Get(context.Background(), "/"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("get after close: %v", err)
	}
}
