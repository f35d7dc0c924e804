package resolver

import (
	"math/rand"

	"github.com/go-slark/discovery/registry"
)

// Subset narrows the instances a client connects to. set and addrs are
// parallel slices.
type Subset interface {
	Subset(set []*registry.Instance, addrs []string, size int) ([]*registry.Instance, []string)
}

type Shuffle struct{}

func (s *Shuffle) Subset(set []*registry.Instance, addrs []string, size int) ([]*registry.Instance, []string) {
	rand.Shuffle(len(set), func(i, j int) {
		set[i], set[j] = set[j], set[i]
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	if len(set) <= size {
		return set, addrs
	}
	return set[:size], addrs[:size]
}
