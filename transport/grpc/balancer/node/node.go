package node

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
)

var ErrNoAvailable = errors.New("no available node")

const weightKey = "weight"

// Node is one routable backend of a service.
type Node struct {
	Key      string
	Addr     string
	Weight   int64
	Metadata map[string]string
}

// New reads the weight from metadata, defaulting to 1.
func New(key, addr string, md map[string]string) *Node {
	n := &Node{
		Key:      key,
		Addr:     addr,
		Weight:   1,
		Metadata: md,
	}
	if w, ok := md[weightKey]; ok {
		if weight, err := strconv.ParseInt(w, 10, 64); err == nil && weight > 0 {
			n.Weight = weight
		}
	}
	return n
}

type Picker interface {
	Pick(ctx context.Context, nodes []*Node) (*Node, error)
}

type Builder func() Picker

type Filter func(ctx context.Context, nodes []*Node) []*Node

// Metadata keeps the nodes whose metadata has key set to value.
func Metadata(key, value string) Filter {
	return func(_ context.Context, nodes []*Node) []*Node {
		out := make([]*Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Metadata[key] == value {
				out = append(out, n)
			}
		}
		return out
	}
}

// Set default
type Set struct {
	nodes   []*Node
	l       sync.RWMutex
	picker  Picker
	filters []Filter
}

func NewSet(picker Picker, filters ...Filter) *Set {
	return &Set{
		picker:  picker,
		filters: filters,
	}
}

// Save replaces the routing set; nodes are kept sorted by key so pickers see
// a stable order.
func (s *Set) Save(nodes []*Node) {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})
	s.l.Lock()
	s.nodes = sorted
	s.l.Unlock()
}

func (s *Set) Nodes() []*Node {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.nodes
}

func (s *Set) Pick(ctx context.Context, filters ...Filter) (*Node, error) {
	nodes := s.Nodes()
	for _, filter := range s.filters {
		nodes = filter(ctx, nodes)
	}
	for _, filter := range filters {
		nodes = filter(ctx, nodes)
	}
	if len(nodes) == 0 {
		return nil, ErrNoAvailable
	}
	// balance algo
	return s.picker.Pick(ctx, nodes)
}

var (
	mu       sync.RWMutex
	builders = make(map[string]Builder)
)

func Register(name string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[name] = b
}

func Get(name string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[name]
	return b, ok
}
