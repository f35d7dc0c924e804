// Package balancer keeps a live set of connections to the instances of one
// service and routes calls across them.
package balancer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/logger"
	_ "github.com/go-slark/discovery/transport/grpc/balancer/algo"
	"github.com/go-slark/discovery/transport/grpc/balancer/node"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn is a connection to one backend.
type Conn interface {
	grpc.ClientConnInterface
	Target() string
	Close() error
}

type Dialer func(ctx context.Context, target string) (Conn, error)

// DialContext returns the default dialer: a grpc client connection that is
// only handed out once it reached READY.
func DialContext(opts ...grpc.DialOption) Dialer {
	return func(ctx context.Context, target string) (Conn, error) {
		dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
		cc, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, err
		}
		cc.Connect()
		for {
			s := cc.GetState()
			if s == connectivity.Ready {
				return cc, nil
			}
			if s == connectivity.Shutdown || !cc.WaitForStateChange(ctx, s) {
				_ = cc.Close()
				if err = ctx.Err(); err == nil {
					err = errors.New("connection shut down")
				}
				return nil, err
			}
		}
	}
}

type option struct {
	dialer  Dialer
	picker  string
	filters []node.Filter
	timeout time.Duration
	logger  logger.Logger
}

type Option func(*option)

func WithDialer(d Dialer) Option {
	return func(o *option) {
		o.dialer = d
	}
}

// WithPicker selects a registered routing algorithm by name.
func WithPicker(name string) Option {
	return func(o *option) {
		o.picker = name
	}
}

func WithFilter(filters ...node.Filter) Option {
	return func(o *option) {
		o.filters = append(o.filters, filters...)
	}
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *option) {
		o.timeout = d
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *option) {
		o.logger = l
	}
}

type backend struct {
	node     *node.Node
	conn     Conn
	inflight atomic.Int64
	removed  atomic.Bool
	once     sync.Once
	log      logger.Logger
}

func (b *backend) acquire() {
	b.inflight.Add(1)
}

func (b *backend) release() {
	if b.inflight.Add(-1) == 0 && b.removed.Load() {
		b.close()
	}
}

// retire closes the connection once the last in-flight call finished.
func (b *backend) retire() {
	b.removed.Store(true)
	if b.inflight.Load() == 0 {
		b.close()
	}
}

func (b *backend) close() {
	b.once.Do(func() {
		if err := b.conn.Close(); err != nil {
			b.log.Log(context.Background(), logger.WarnLevel, logger.Fields(logger.Key(b.node.Key), logger.Target(b.node.Addr), logger.Error(err)), "close backend")
		}
	})
}

type Pool struct {
	name     string
	opt      *option
	set      *node.Set
	mu       sync.RWMutex
	backends map[string]*backend
	closed   bool
}

var _ grpc.ClientConnInterface = (*Pool)(nil)

func New(name string, opts ...Option) *Pool {
	o := &option{
		picker:  "round_robin",
		timeout: 3 * time.Second,
		logger:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dialer == nil {
		o.dialer = DialContext()
	}
	build, ok := node.Get(o.picker)
	if !ok {
		build, _ = node.Get("round_robin")
	}
	return &Pool{
		name:     name,
		opt:      o,
		set:      node.NewSet(build(), o.filters...),
		backends: make(map[string]*backend),
	}
}

func (p *Pool) Name() string {
	return p.name
}

// Insert dials target and makes it routable under key. An existing backend
// under the same key is replaced and drained.
func (p *Pool) Insert(ctx context.Context, key, target string, md map[string]string) error {
	conn, err := p.Dial(ctx, target)
	if err != nil {
		return err
	}
	return p.Add(key, target, md, conn)
}

// Dial connects to target within the connect timeout without routing to it.
func (p *Pool) Dial(ctx context.Context, target string) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opt.timeout)
	defer cancel()
	conn, err := p.opt.dialer(ctx, target)
	if err != nil {
		return nil, errors.ConnectFailed(target, err)
	}
	return conn, nil
}

// Add makes an already dialed conn routable under key. The pool owns conn
// from then on, also when Add fails.
func (p *Pool) Add(key, target string, md map[string]string, conn Conn) error {
	b := &backend{
		node: node.New(key, target, md),
		conn: conn,
		log:  p.opt.logger,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return errors.ErrClosed
	}
	old := p.backends[key]
	p.backends[key] = b
	p.save()
	p.mu.Unlock()

	if old != nil {
		old.retire()
	}
	return nil
}

// Remove takes key out of routing at once; its connection stays open until
// in-flight calls finish. It reports whether key was present.
func (p *Pool) Remove(key string) bool {
	p.mu.Lock()
	b, ok := p.backends[key]
	if ok {
		delete(p.backends, key)
		p.save()
	}
	p.mu.Unlock()
	if ok {
		b.retire()
	}
	return ok
}

func (p *Pool) save() {
	nodes := make([]*node.Node, 0, len(p.backends))
	for _, b := range p.backends {
		nodes = append(nodes, b.node)
	}
	p.set.Save(nodes)
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.backends)
}

func (p *Pool) Keys() []string {
	p.mu.RLock()
	keys := make([]string, 0, len(p.backends))
	for k := range p.backends {
		keys = append(keys, k)
	}
	p.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Target returns the address routed for key.
func (p *Pool) Target(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.backends[key]
	if !ok {
		return "", false
	}
	return b.node.Addr, true
}

// Get returns a handle pinned to the backend under key.
func (p *Pool) Get(key string) (*Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.backends[key]
	if !ok {
		return nil, false
	}
	return &Handle{b: b}, true
}

// pick selects a backend and counts the caller in. The read lock keeps
// Remove from retiring the backend between the pick and the count.
func (p *Pool) pick(ctx context.Context) (*backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, errors.ErrClosed
	}
	n, err := p.set.Pick(ctx)
	if err != nil {
		return nil, errors.NotFound(p.name).WithError(err)
	}
	b, ok := p.backends[n.Key]
	if !ok {
		return nil, errors.NotFound(p.name)
	}
	b.acquire()
	return b, nil
}

// Pick returns a handle on one backend. Calls through the handle are counted
// as in flight on that backend.
func (p *Pool) Pick(ctx context.Context) (*Handle, error) {
	b, err := p.pick(ctx)
	if err != nil {
		return nil, err
	}
	b.release()
	return &Handle{b: b}, nil
}

func (p *Pool) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	b, err := p.pick(ctx)
	if err != nil {
		return err
	}
	defer b.release()
	return b.conn.Invoke(ctx, method, args, reply, opts...)
}

func (p *Pool) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	b, err := p.pick(ctx)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, b, desc, method, opts...)
}

// Close retires every backend and rejects further calls.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	backends := p.backends
	p.backends = make(map[string]*backend)
	p.save()
	p.mu.Unlock()
	for _, b := range backends {
		b.retire()
	}
	return nil
}

// Handle is a point-in-time route to one backend. Close is a no-op; the pool
// owns the connection.
type Handle struct {
	b *backend
}

var _ Conn = (*Handle)(nil)

func (h *Handle) Key() string {
	return h.b.node.Key
}

func (h *Handle) Target() string {
	return h.b.node.Addr
}

func (h *Handle) Close() error {
	return nil
}

func (h *Handle) Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error {
	h.b.acquire()
	defer h.b.release()
	return h.b.conn.Invoke(ctx, method, args, reply, opts...)
}

func (h *Handle) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	h.b.acquire()
	return newStream(ctx, h.b, desc, method, opts...)
}

// newStream expects the caller to have acquired b.
func newStream(ctx context.Context, b *backend, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	cs, err := b.conn.NewStream(ctx, desc, method, opts...)
	if err != nil {
		b.release()
		return nil, err
	}
	s := &stream{ClientStream: cs, b: b, single: !desc.ServerStreams}
	s.stop = context.AfterFunc(ctx, s.done)
	return s, nil
}

// stream releases its backend when the call is over: on the first error, on
// ctx end, or after the one reply of a call without server streaming.
type stream struct {
	grpc.ClientStream
	b      *backend
	single bool
	once   sync.Once
	stop   func() bool
}

func (s *stream) done() {
	s.once.Do(s.b.release)
}

func (s *stream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if err != nil || s.single {
		s.stop()
		s.done()
	}
	return err
}
