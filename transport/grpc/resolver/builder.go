// Package resolver lets a plain grpc.ClientConn dial "discovery:///<service>"
// and follow the membership kept by a registry.Discovery.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/go-slark/discovery/errors"
	utils "github.com/go-slark/discovery/pkg"
	"github.com/go-slark/discovery/registry"
	"google.golang.org/grpc/resolver"
)

type builder struct {
	discovery *registry.Discovery
	tm        time.Duration
	insecure  bool
	size      int
	subset    Subset
}

type Option func(*builder)

// WithTimeout bounds the initial watch of a service.
func WithTimeout(tm time.Duration) Option {
	return func(b *builder) {
		b.tm = tm
	}
}

func WithSize(size int) Option {
	return func(b *builder) {
		b.size = size
	}
}

func WithSubSet(subset Subset) Option {
	return func(b *builder) {
		b.subset = subset
	}
}

func WithInsecure(insecure bool) Option {
	return func(b *builder) {
		b.insecure = insecure
	}
}

func NewBuilder(dis *registry.Discovery, opts ...Option) resolver.Builder {
	b := &builder{
		discovery: dis,
		tm:        10 * time.Second,
		insecure:  true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *builder) Build(target resolver.Target, cc resolver.ClientConn, _ resolver.BuildOptions) (resolver.Resolver, error) {
	name := strings.TrimPrefix(target.URL.Path, "/")
	if name == "" {
		name = target.URL.Host
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.tm)
	defer cancel()
	if err := b.discovery.Watch(ctx, name); err != nil {
		return nil, err
	}
	members, err := b.discovery.Snapshot(name)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot %s", name)
	}
	p := &parser{
		members:  members,
		cc:       cc,
		ss:       b.subset,
		size:     b.size,
		insecure: b.insecure,
	}
	p.unsubscribe = members.Subscribe(func(registry.Change) {
		p.update()
	})
	p.update()
	return p, nil
}

func (b *builder) Scheme() string {
	return utils.Discovery
}
