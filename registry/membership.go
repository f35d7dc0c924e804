package registry

import (
	"sort"
	"sync"

	"github.com/go-slark/discovery/transport/grpc/balancer"
)

// Member is one live instance of a watched service.
type Member struct {
	Key      string
	Instance *Instance
	Conn     balancer.Conn
}

func (m *Member) Target() string {
	if m.Conn == nil {
		return ""
	}
	return m.Conn.Target()
}

type ChangeType int8

const (
	MemberInsert ChangeType = iota
	MemberUpdate
	MemberRemove
)

func (t ChangeType) String() string {
	switch t {
	case MemberInsert:
		return "insert"
	case MemberUpdate:
		return "update"
	case MemberRemove:
		return "remove"
	}
	return "unknown"
}

type Change struct {
	Type   ChangeType
	Member *Member
}

// Membership maps store keys to members of one service. Only the watch
// worker of the owning Discovery mutates it; any goroutine may read.
type Membership struct {
	name    string
	mu      sync.RWMutex
	members map[string]*Member

	subMu sync.Mutex
	seq   int
	subs  map[int]func(Change)
}

func newMembership(name string) *Membership {
	return &Membership{
		name:    name,
		members: make(map[string]*Member),
		subs:    make(map[int]func(Change)),
	}
}

func (m *Membership) Name() string {
	return m.name
}

func (m *Membership) Get(key string) (*Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[key]
	return mem, ok
}

func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Members returns the current members ordered by key.
func (m *Membership) Members() []*Member {
	m.mu.RLock()
	ms := make([]*Member, 0, len(m.members))
	for _, mem := range m.members {
		ms = append(ms, mem)
	}
	m.mu.RUnlock()
	sort.Slice(ms, func(i, j int) bool {
		return ms[i].Key < ms[j].Key
	})
	return ms
}

// Subscribe registers fn for every later change, delivered in apply order
// from the watch worker. fn must not block. The returned func unsubscribes.
func (m *Membership) Subscribe(fn func(Change)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.seq++
	id := m.seq
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Membership) set(mem *Member) ChangeType {
	m.mu.Lock()
	_, ok := m.members[mem.Key]
	m.members[mem.Key] = mem
	m.mu.Unlock()
	if ok {
		return MemberUpdate
	}
	return MemberInsert
}

func (m *Membership) delete(key string) (*Member, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[key]
	if ok {
		delete(m.members, key)
	}
	return mem, ok
}

func (m *Membership) notify(c Change) {
	m.subMu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
