package algo

import (
	"context"
	"strings"
	"sync"

	"github.com/go-slark/discovery/pkg/hash"
	"github.com/go-slark/discovery/transport/grpc/balancer/node"
)

const ConsistentHash = "consistent_hash"

type hashKey struct{}

// WithHashKey routes calls made with ctx by key, so equal keys stick to the
// same backend while the set is unchanged.
func WithHashKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, hashKey{}, key)
}

type consistentHash struct {
	l     sync.Mutex
	sig   string
	ring  *hash.Consistent
	nodes map[string]*node.Node
	rr    node.Picker
}

func init() {
	node.Register(ConsistentHash, NewConsistentHash)
}

func NewConsistentHash() node.Picker {
	return &consistentHash{rr: NewRoundRobin()}
}

func (c *consistentHash) Pick(ctx context.Context, nodes []*node.Node) (*node.Node, error) {
	key, ok := ctx.Value(hashKey{}).(string)
	if !ok || key == "" {
		return c.rr.Pick(ctx, nodes)
	}
	if len(nodes) == 0 {
		return nil, node.ErrNoAvailable
	}
	keys := make([]string, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, n.Key)
	}
	sig := strings.Join(keys, ",")

	c.l.Lock()
	defer c.l.Unlock()
	if c.ring == nil || sig != c.sig {
		c.ring = hash.New()
		c.nodes = make(map[string]*node.Node, len(nodes))
		for _, n := range nodes {
			c.ring.Add(n.Key)
			c.nodes[n.Key] = n
		}
		c.sig = sig
	}
	n, ok := c.nodes[c.ring.Get(key)]
	if !ok {
		return nil, node.ErrNoAvailable
	}
	return n, nil
}
