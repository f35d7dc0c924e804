// Package store is the contract the registry needs from a strongly
// consistent key-value coordination store.
package store

import (
	"context"
	"errors"
)

var (
	ErrCompacted     = errors.New("store: requested revision has been compacted")
	ErrLeaseNotFound = errors.New("store: lease not found")
	ErrClosed        = errors.New("store: closed")
)

type LeaseID int64

const NoLease LeaseID = 0

type KeyValue struct {
	Key         string
	Value       []byte
	ModRevision int64
	Lease       LeaseID
}

type EventType int8

const (
	EventPut EventType = iota
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventPut:
		return "put"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

type Event struct {
	Type     EventType
	Key      string
	Value    []byte
	Revision int64
}

// WatchResponse carries the events of one store revision batch. Revision is
// the store revision the batch was observed at. A non-nil Err is terminal and
// the channel is closed right after it.
type WatchResponse struct {
	Events   []Event
	Revision int64
	Err      error
}

type Store interface {
	// Get returns every key under prefix together with the store revision
	// the read was served at.
	Get(ctx context.Context, prefix string) ([]*KeyValue, int64, error)
	Put(ctx context.Context, key string, value []byte, lease LeaseID) error
	Delete(ctx context.Context, key string) error
	Grant(ctx context.Context, ttl int64) (LeaseID, error)
	// KeepAliveOnce refreshes the lease and returns its remaining ttl.
	KeepAliveOnce(ctx context.Context, id LeaseID) (int64, error)
	Revoke(ctx context.Context, id LeaseID) error
	// Watch streams changes under prefix starting at rev (0 means now).
	// The channel is closed when ctx is done or the stream breaks.
	Watch(ctx context.Context, prefix string, rev int64) <-chan WatchResponse
	Close() error
}
