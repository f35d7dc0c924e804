package retry

/*
	最简单的重试是循环执行相关代码，存在的问题：
	1.重试之间没有时间间隔，如网络原因造成请求失败，若重试请求间隔时间太短，这种重试无意义
	2.发生错误时，不能根据错误类型调整重试策略
	3.可能造成惊群问题 （Thundering Herd Problem），当服务端一次断开大量连接，客户端会同时发送重试请求，极易造成惊群问题
*/

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/go-slark/discovery/logger"
	"github.com/pkg/errors"
)

type Func func(int, *Option) time.Duration

type Option struct {
	retry     int
	backoff   int
	delay     time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration
	f         Func
	timer     func(time.Duration) (<-chan time.Time, func() bool)
	ctx       context.Context
	debug     bool
}

func NewOption(opts ...Opt) *Option {
	o := &Option{
		retry:     5,
		delay:     100 * time.Millisecond,
		maxJitter: 100 * time.Millisecond,
		f:         BackOff,
		ctx:       context.Background(),
		timer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Opt func(*Option)

func Retry(retry int) Opt {
	return func(o *Option) {
		if retry > 0 {
			o.retry = retry
		}
	}
}

func Delay(delay time.Duration) Opt {
	return func(o *Option) {
		o.delay = delay
	}
}

func MaxDelay(maxDelay time.Duration) Opt {
	return func(o *Option) {
		o.maxDelay = maxDelay
	}
}

func MaxJitter(maxJitter time.Duration) Opt {
	return func(o *Option) {
		o.maxJitter = maxJitter
	}
}

func Function(f Func) Opt {
	return func(o *Option) {
		o.f = f
	}
}

func Context(ctx context.Context) Opt {
	return func(o *Option) {
		o.ctx = ctx
	}
}

func Debug(debug bool) Opt {
	return func(o *Option) {
		o.debug = debug
	}
}

func Timer(timer func(d time.Duration) (<-chan time.Time, func() bool)) Opt {
	return func(o *Option) {
		o.timer = timer
	}
}

func BackOff(n int, o *Option) time.Duration {
	// 1 << 63 would overflow signed int64 (time.Duration), thus 62.
	max := 62
	if o.backoff == 0 {
		if o.delay <= 0 {
			o.delay = 1
		}
		o.backoff = max - int(math.Floor(math.Log2(float64(o.delay))))
	}
	if n > o.backoff {
		n = o.backoff
	}
	return o.delay << n
}

func Fixed(_ int, o *Option) time.Duration {
	return o.delay
}

func Random(_ int, o *Option) time.Duration {
	if o.maxJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(o.maxJitter)))
}

func Group(fs ...Func) Func {
	return func(n int, o *Option) time.Duration {
		var total time.Duration
		for _, f := range fs {
			d := f(n, o)
			if total > math.MaxInt64-d {
				return math.MaxInt64
			}
			total += d
		}
		return total
	}
}

type unrecoverable struct {
	error
}

func (u unrecoverable) Unwrap() error {
	return u.error
}

// Unrecoverable stops the retry loop at once and makes Retry return err.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return unrecoverable{err}
}

// Attempts returns the configured budget.
func (o *Option) Attempts() int {
	return o.retry
}

// Delay is the wait after the n-th failed attempt, for callers that schedule
// their own retries.
func (o *Option) Delay(ctx context.Context, n int) time.Duration {
	return delay(ctx, o, n)
}

func (o *Option) Retry(fn func() error) error {
	return o.RetryContext(o.ctx, fn)
}

// RetryContext runs fn at most retry times, sleeping between attempts. A done
// ctx ends the loop and the last error (or ctx.Err() before any attempt) is
// returned.
func (o *Option) RetryContext(ctx context.Context, fn func() error) error {
	var err error
	for n := 1; n <= o.retry; n++ {
		if ce := ctx.Err(); ce != nil {
			if err == nil {
				err = ce
			}
			return err
		}
		err = fn()
		if err == nil {
			return nil
		}
		var u unrecoverable
		if errors.As(err, &u) {
			return u.error
		}
		if n == o.retry {
			break
		}

		c, stop := o.timer(delay(ctx, o, n))
		select {
		case <-c:
		case <-ctx.Done():
			stop()
			return err
		}
	}
	return err
}

func delay(ctx context.Context, o *Option, n int) time.Duration {
	delayTime := o.f(n, o)
	if o.maxDelay > 0 && delayTime > o.maxDelay {
		delayTime = o.maxDelay
	}
	if o.debug {
		logger.Log(ctx, logger.DebugLevel, map[string]interface{}{"times": n, "delay_time": delayTime, "max_delay": o.maxDelay}, "正在进行重试")
	}
	return delayTime
}
