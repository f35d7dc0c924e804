package algo

import (
	"context"
	"math/rand"

	"github.com/go-slark/discovery/transport/grpc/balancer/node"
)

const Random = "random"

type random struct{}

func init() {
	node.Register(Random, NewRandom)
}

func NewRandom() node.Picker {
	return random{}
}

func (random) Pick(_ context.Context, nodes []*node.Node) (*node.Node, error) {
	if len(nodes) == 0 {
		return nil, node.ErrNoAvailable
	}
	return nodes[rand.Intn(len(nodes))], nil
}
