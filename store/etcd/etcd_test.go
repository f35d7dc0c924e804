package etcd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-slark/discovery/store"
	"github.com/testcontainers/testcontainers-go"
	testcontainer "github.com/testcontainers/testcontainers-go/modules/etcd"
)

func startEtcd(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("etcd container skipped in short mode")
	}
	var (
		c   *testcontainer.EtcdContainer
		err error
	)
	func() {
		// testcontainers panics when no docker host can be found
		defer func() {
			if r := recover(); r != nil {
				err = errors.New("docker unavailable")
			}
		}()
		c, err = testcontainer.Run(t.Context(), "gcr.io/etcd-development/etcd:v3.5.14")
	}()
	if err != nil {
		t.Skipf("etcd container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("terminate etcd: %v", err)
		}
	})
	endpoints, err := c.ClientEndpoints(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	return endpoints
}

func TestStore(t *testing.T) {
	endpoints := startEtcd(t)
	s, err := New(Endpoints(endpoints...), DialTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancel()

	ch := s.Watch(ctx, "/slark/services/user.rpc/", 0)

	id, err := s.Grant(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Put(ctx, "/slark/services/user.rpc/1", []byte(`{"id":"1"}`), id); err != nil {
		t.Fatal(err)
	}
	kvs, rev, err := s.Get(ctx, "/slark/services/user.rpc/")
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 1 || kvs[0].Lease != id || rev < kvs[0].ModRevision {
		t.Fatalf("unexpected get: %+v rev %d", kvs, rev)
	}

	ttl, err := s.KeepAliveOnce(ctx, id)
	if err != nil || ttl <= 0 {
		t.Fatalf("keepalive ttl %d err %v", ttl, err)
	}

	if err = s.Revoke(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err = s.KeepAliveOnce(ctx, id); !errors.Is(err, store.ErrLeaseNotFound) {
		t.Fatalf("keepalive after revoke: %v", err)
	}

	var types []store.EventType
	for len(types) < 2 {
		select {
		case rsp, ok := <-ch:
			if !ok {
				t.Fatal("watch closed")
			}
			for _, ev := range rsp.Events {
				types = append(types, ev.Type)
			}
		case <-ctx.Done():
			t.Fatal("watch timed out")
		}
	}
	if types[0] != store.EventPut || types[1] != store.EventDelete {
		t.Fatalf("event types %v", types)
	}

	// resume from the first revision replays the history
	replay := s.Watch(ctx, "/slark/services/user.rpc/", kvs[0].ModRevision)
	select {
	case rsp := <-replay:
		if len(rsp.Events) == 0 || rsp.Events[0].Type != store.EventPut {
			t.Fatalf("replay %+v", rsp)
		}
	case <-ctx.Done():
		t.Fatal("replay timed out")
	}
}
