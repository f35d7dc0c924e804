package breaker

import (
	"sync"

	"github.com/zeromicro/go-zero/core/breaker"
)

// breaker: 服务过载保护 & 服务弹性 & 防止雪崩

var ErrOpen = breaker.ErrServiceUnavailable

// Breakers holds one google sre breaker per name.
type Breakers struct {
	l   sync.RWMutex
	bre map[string]breaker.Breaker
}

func NewBreakers() *Breakers {
	return &Breakers{bre: make(map[string]breaker.Breaker)}
}

func (b *Breakers) Fetch(name string) breaker.Breaker {
	b.l.RLock()
	bre, ok := b.bre[name]
	b.l.RUnlock()
	if ok {
		return bre
	}
	b.l.Lock()
	defer b.l.Unlock()
	if bre, ok = b.bre[name]; !ok {
		bre = breaker.NewBreaker(breaker.WithName(name))
		b.bre[name] = bre
	}
	return bre
}

// Do runs fn through the breaker of name. Errors acceptable reports true for
// do not count as failures. An open breaker returns ErrOpen without calling fn.
func (b *Breakers) Do(name string, fn func() error, acceptable func(error) bool) error {
	if acceptable == nil {
		acceptable = func(err error) bool { return err == nil }
	}
	return b.Fetch(name).DoWithAcceptable(fn, acceptable)
}
