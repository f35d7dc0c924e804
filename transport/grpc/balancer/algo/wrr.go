package algo

import (
	"context"
	"sync"

	"github.com/go-slark/discovery/transport/grpc/balancer/node"
)

const WRR = "wrr"

// smooth weighted round robin
type wrr struct {
	l      sync.Mutex
	weight map[string]int64
}

func init() {
	node.Register(WRR, NewWRR)
}

func NewWRR() node.Picker {
	return &wrr{weight: map[string]int64{}}
}

func (w *wrr) Pick(_ context.Context, nodes []*node.Node) (*node.Node, error) {
	if len(nodes) == 0 {
		return nil, node.ErrNoAvailable
	}
	var (
		tw, cw, hw int64
		hn         *node.Node
	)
	w.l.Lock()
	defer w.l.Unlock()
	for _, n := range nodes {
		cw = w.weight[n.Key] + n.Weight
		w.weight[n.Key] = cw // current weight
		tw += n.Weight       // total weight
		if hn == nil || hw < cw {
			hw = cw // hit weight
			hn = n  // hit node
		}
	}
	w.weight[hn.Key] = hw - tw
	// drop state of nodes that left the set
	if len(w.weight) > 2*len(nodes) {
		live := make(map[string]int64, len(nodes))
		for _, n := range nodes {
			live[n.Key] = w.weight[n.Key]
		}
		w.weight = live
	}
	return hn, nil
}
