// Package etcd implements store.Store on an etcd v3 cluster.
package etcd

import (
	"context"
	"fmt"
	"time"

	"github.com/go-slark/discovery/store"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type Store struct {
	client *clientv3.Client
	owned  bool
}

var _ store.Store = (*Store)(nil)

// New dials the cluster and checks that the first endpoint answers.
func New(opts ...Option) (*Store, error) {
	opt := &option{
		ctx:         context.Background(),
		endpoints:   []string{"127.0.0.1:2379"},
		dialTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(opt)
	}

	client, err := clientv3.New(clientv3.Config{
		Context:     opt.ctx,
		Endpoints:   opt.endpoints,
		DialTimeout: opt.dialTimeout,
		TLS:         opt.tls,
		Username:    opt.username,
		Password:    opt.password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create etcd client")
	}

	ctx, cancel := context.WithTimeout(opt.ctx, opt.dialTimeout)
	defer cancel()
	if _, err = client.Status(ctx, opt.endpoints[0]); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect etcd %v", opt.endpoints)
	}
	return &Store{client: client, owned: true}, nil
}

// NewWithClient wraps an existing client; Close leaves it open.
func NewWithClient(client *clientv3.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, prefix string) ([]*store.KeyValue, int64, error) {
	rsp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, convert(err)
	}
	kvs := make([]*store.KeyValue, 0, len(rsp.Kvs))
	for _, kv := range rsp.Kvs {
		kvs = append(kvs, &store.KeyValue{
			Key:         string(kv.Key),
			Value:       kv.Value,
			ModRevision: kv.ModRevision,
			Lease:       store.LeaseID(kv.Lease),
		})
	}
	return kvs, rsp.Header.Revision, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, lease store.LeaseID) error {
	var opts []clientv3.OpOption
	if lease != store.NoLease {
		opts = append(opts, clientv3.WithLease(clientv3.LeaseID(lease)))
	}
	_, err := s.client.Put(ctx, key, string(value), opts...)
	return convert(err)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, key)
	return convert(err)
}

func (s *Store) Grant(ctx context.Context, ttl int64) (store.LeaseID, error) {
	rsp, err := s.client.Grant(ctx, ttl)
	if err != nil {
		return store.NoLease, convert(err)
	}
	return store.LeaseID(rsp.ID), nil
}

func (s *Store) KeepAliveOnce(ctx context.Context, id store.LeaseID) (int64, error) {
	rsp, err := s.client.KeepAliveOnce(ctx, clientv3.LeaseID(id))
	if err != nil {
		return 0, convert(err)
	}
	return rsp.TTL, nil
}

func (s *Store) Revoke(ctx context.Context, id store.LeaseID) error {
	_, err := s.client.Revoke(ctx, clientv3.LeaseID(id))
	return convert(err)
}

// Watch requires a leader so a member cut off from the quorum ends the
// stream instead of going quiet.
func (s *Store) Watch(ctx context.Context, prefix string, rev int64) <-chan store.WatchResponse {
	ch := make(chan store.WatchResponse)
	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev))
	}
	ctx, cancel := context.WithCancel(ctx)
	wc := s.client.Watch(clientv3.WithRequireLeader(ctx), prefix, opts...)
	go func() {
		defer close(ch)
		defer cancel()
		for rsp := range wc {
			out := store.WatchResponse{Revision: rsp.Header.Revision}
			switch {
			case rsp.CompactRevision != 0:
				out.Revision = rsp.CompactRevision
				out.Err = store.ErrCompacted
			case rsp.Err() != nil:
				out.Err = rsp.Err()
			default:
				out.Events = make([]store.Event, 0, len(rsp.Events))
				for _, ev := range rsp.Events {
					e := store.Event{
						Key:      string(ev.Kv.Key),
						Revision: ev.Kv.ModRevision,
					}
					switch ev.Type {
					case mvccpb.PUT:
						e.Type = store.EventPut
						e.Value = ev.Kv.Value
					case mvccpb.DELETE:
						e.Type = store.EventDelete
					default:
						continue
					}
					out.Events = append(out.Events, e)
				}
				if len(out.Events) == 0 {
					continue
				}
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
			if out.Err != nil {
				return
			}
		}
	}()
	return ch
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func convert(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rpctypes.ErrLeaseNotFound):
		return store.ErrLeaseNotFound
	case errors.Is(err, rpctypes.ErrCompacted):
		return store.ErrCompacted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("etcd: %w", err)
}
