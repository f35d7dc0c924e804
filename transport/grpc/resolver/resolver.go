package resolver

import (
	"sync"
	"sync/atomic"

	utils "github.com/go-slark/discovery/pkg"
	"github.com/go-slark/discovery/pkg/endpoint"
	"github.com/go-slark/discovery/registry"
	"google.golang.org/grpc/attributes"
	"google.golang.org/grpc/resolver"
)

type parser struct {
	mu          sync.Mutex
	members     *registry.Membership
	unsubscribe func()
	cc          resolver.ClientConn
	ss          Subset
	size        int
	insecure    bool
	closed      atomic.Bool
}

func (p *parser) ResolveNow(resolver.ResolveNowOptions) {
	p.update()
}

func (p *parser) Close() {
	p.closed.Store(true)
	p.unsubscribe()
}

// update pushes the current members. An empty list is pushed too so calls
// stop reaching instances that left.
func (p *parser) update() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	seen := map[string]struct{}{}
	set := make([]*registry.Instance, 0)
	addrs := make([]string, 0)
	for _, m := range p.members.Members() {
		addr, err := endpoint.Target(m.Instance.Endpoints, endpoint.Scheme("grpc", p.insecure))
		if err != nil {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		set = append(set, m.Instance)
		addrs = append(addrs, addr)
	}
	if p.ss != nil && p.size > 0 {
		set, addrs = p.ss.Subset(set, addrs, p.size)
	}
	addresses := make([]resolver.Address, 0, len(set))
	for i, ins := range set {
		addresses = append(addresses, resolver.Address{
			Addr:       addrs[i],
			ServerName: ins.Name,
			Attributes: attributes.New(utils.ServiceRegistry, ins),
		})
	}
	_ = p.cc.UpdateState(resolver.State{Addresses: addresses})
}
