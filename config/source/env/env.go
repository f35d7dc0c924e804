package env

import (
	"context"
	"os"
	"strings"

	"github.com/go-slark/discovery/encoding"
	"github.com/go-slark/discovery/encoding/yaml"
)

// Env maps PREFIX_A__B=v to {a: {b: v}}. Values are decoded as yaml scalars,
// so numbers and booleans keep their type.
type Env struct {
	prefix []string
	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Env)

func Prefix(prefix ...string) Option {
	return func(e *Env) {
		e.prefix = prefix
	}
}

func New(opts ...Option) *Env {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Env{
		prefix: []string{"SLARK_"},
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Env) Load() ([]byte, error) {
	codec := encoding.GetCodec(yaml.Name)
	mp := make(map[string]any)
	for _, env := range os.Environ() {
		str := strings.SplitN(env, "=", 2)
		key := str[0]
		var value string
		if len(str) > 1 {
			value = str[1]
		}
		prefix, match := e.match(key)
		if !match || len(prefix) == len(key) {
			continue
		}
		key = strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(key, prefix), "_"))
		if len(key) == 0 {
			continue
		}
		var v any
		if err := codec.Unmarshal([]byte(value), &v); err != nil || v == nil {
			v = value
		}
		paths := strings.Split(key, "__")
		m := mp
		for _, p := range paths[:len(paths)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[paths[len(paths)-1]] = v
	}
	return codec.Marshal(mp)
}

func (e *Env) match(str string) (string, bool) {
	for _, prefix := range e.prefix {
		if strings.HasPrefix(str, prefix) {
			return prefix, true
		}
	}
	return "", false
}

// Watch never fires; the process environment is fixed after start.
func (e *Env) Watch() <-chan struct{} {
	return e.ctx.Done()
}

func (e *Env) Close() error {
	e.cancel()
	return nil
}

func (e *Env) Format() string {
	return yaml.Name
}
