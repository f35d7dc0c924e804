package hash

import (
	"sort"
	"strconv"
	"sync"

	"github.com/spaolacci/murmur3"
)

type Consistent struct {
	f     func([]byte) uint64
	vn    int                 // 虚拟节点数量
	vnl   []uint64            // sorted虚拟节点hash构成环上的节点
	ring  map[uint64][]string // 虚拟节点 - 真实节点(节点冲突)
	nodes map[string]struct{} // 真实节点
	l     sync.RWMutex
}

type Option func(*Consistent)

func Func(f func([]byte) uint64) Option {
	return func(c *Consistent) {
		c.f = f
	}
}

func VirtualNodes(vn int) Option {
	return func(c *Consistent) {
		if vn > 0 {
			c.vn = vn
		}
	}
}

func New(opts ...Option) *Consistent {
	c := &Consistent{
		f:     murmur3.Sum64,
		vn:    32,
		ring:  make(map[uint64][]string),
		nodes: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add 添加真实节点 & 虚拟节点, 可重复添加
func (c *Consistent) Add(node string) {
	c.l.Lock()
	defer c.l.Unlock()
	c.remove(node)
	c.nodes[node] = struct{}{}
	for i := 0; i < c.vn; i++ {
		h := c.f([]byte(node + strconv.Itoa(i)))
		if len(c.ring[h]) == 0 {
			c.vnl = append(c.vnl, h)
		}
		c.ring[h] = append(c.ring[h], node)
	}
	sort.Slice(c.vnl, func(i, j int) bool {
		return c.vnl[i] < c.vnl[j]
	})
}

// Remove 删除真实节点 & 虚拟节点
func (c *Consistent) Remove(node string) {
	c.l.Lock()
	defer c.l.Unlock()
	c.remove(node)
}

func (c *Consistent) remove(node string) {
	if _, ok := c.nodes[node]; !ok {
		return
	}
	for i := 0; i < c.vn; i++ {
		h := c.f([]byte(node + strconv.Itoa(i)))
		nodes, ok := c.ring[h]
		if !ok {
			continue
		}
		nodes = without(nodes, node)
		if len(nodes) != 0 {
			c.ring[h] = nodes
			continue
		}
		delete(c.ring, h)
		index := sort.Search(len(c.vnl), func(i int) bool {
			return c.vnl[i] >= h
		})
		if index < len(c.vnl) && c.vnl[index] == h {
			c.vnl = append(c.vnl[:index], c.vnl[index+1:]...)
		}
	}
	delete(c.nodes, node)
}

func (c *Consistent) Len() int {
	c.l.RLock()
	defer c.l.RUnlock()
	return len(c.nodes)
}

// Get 顺时针在环上查找第一个不小于key hash的虚拟节点
func (c *Consistent) Get(key string) string {
	c.l.RLock()
	defer c.l.RUnlock()
	size := len(c.vnl)
	if size == 0 {
		return ""
	}
	h := c.f([]byte(key))
	index := sort.Search(size, func(i int) bool {
		return c.vnl[i] >= h
	}) % size
	nodes := c.ring[c.vnl[index]]
	switch len(nodes) {
	case 0:
		return ""
	case 1:
		return nodes[0]
	default:
		// 冲突:一个虚拟节点对应多个真实节点，再hash并对真实节点取模
		h = c.f([]byte(key + "-" + strconv.Itoa(16777619)))
		return nodes[h%uint64(len(nodes))]
	}
}

func without(nodes []string, node string) []string {
	out := nodes[:0]
	for _, n := range nodes {
		if n != node {
			out = append(out, n)
		}
	}
	return out
}
