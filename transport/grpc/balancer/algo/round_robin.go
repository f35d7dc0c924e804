package algo

import (
	"context"
	"sync/atomic"

	"github.com/go-slark/discovery/transport/grpc/balancer/node"
)

const RoundRobin = "round_robin"

type roundRobin struct {
	next atomic.Uint64
}

func init() {
	node.Register(RoundRobin, NewRoundRobin)
}

func NewRoundRobin() node.Picker {
	return &roundRobin{}
}

func (r *roundRobin) Pick(_ context.Context, nodes []*node.Node) (*node.Node, error) {
	if len(nodes) == 0 {
		return nil, node.ErrNoAvailable
	}
	n := r.next.Add(1) - 1
	return nodes[n%uint64(len(nodes))], nil
}
