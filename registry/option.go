package registry

import (
	"time"

	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/transport/grpc/balancer"
	"golang.org/x/time/rate"
)

const DefaultNamespace = "/slark/services"

type option struct {
	ns         string
	ttl        int64
	interval   time.Duration
	retry      int
	retryDelay time.Duration
	timeout    time.Duration
	logger     logger.Logger
	pool       []balancer.Option
	limit      rate.Limit
	burst      int
}

func defaultOption() *option {
	return &option{
		ns:         DefaultNamespace,
		ttl:        10,
		retry:      3,
		retryDelay: 100 * time.Millisecond,
		timeout:    3 * time.Second,
		logger:     logger.GetLogger(),
		limit:      rate.Every(time.Second),
		burst:      3,
	}
}

func (o *option) apply(opts ...Option) *option {
	for _, opt := range opts {
		opt(o)
	}
	o.ns = normalizeNamespace(o.ns)
	if o.ns == "" {
		o.ns = DefaultNamespace
	}
	if o.ttl <= 0 {
		o.ttl = 10
	}
	ttl := time.Duration(o.ttl) * time.Second
	if o.interval <= 0 || o.interval >= ttl {
		o.interval = ttl / 2
	}
	return o
}

type Option func(*option)

// Namespace is the key root shared by a deployment.
func Namespace(ns string) Option {
	return func(o *option) {
		o.ns = ns
	}
}

// TTL of the registration lease, in seconds.
func TTL(ttl int64) Option {
	return func(o *option) {
		o.ttl = ttl
	}
}

// Interval between keepalive rounds, TTL/2 by default.
func Interval(d time.Duration) Option {
	return func(o *option) {
		o.interval = d
	}
}

// Retry is the attempt budget of one store operation.
func Retry(n int) Option {
	return func(o *option) {
		if n > 0 {
			o.retry = n
		}
	}
}

func RetryDelay(d time.Duration) Option {
	return func(o *option) {
		o.retryDelay = d
	}
}

// Timeout bounds each store call.
func Timeout(d time.Duration) Option {
	return func(o *option) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func Logger(l logger.Logger) Option {
	return func(o *option) {
		if l != nil {
			o.logger = l
		}
	}
}

// PoolOptions configures the connection pool of every watched service.
func PoolOptions(opts ...balancer.Option) Option {
	return func(o *option) {
		o.pool = append(o.pool, opts...)
	}
}

// ResumeLimit throttles watch re-subscriptions.
func ResumeLimit(limit rate.Limit, burst int) Option {
	return func(o *option) {
		o.limit = limit
		o.burst = burst
	}
}
