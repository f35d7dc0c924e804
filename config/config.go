package config

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-slark/discovery/encoding"
	_ "github.com/go-slark/discovery/encoding/json"
	"github.com/go-slark/discovery/encoding/yaml"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/pkg/routine"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

type Config struct {
	l         sync.RWMutex
	values    map[string]any
	watchers  map[string][]func(*Config)
	delimiter string
	srcs      []Source
	ctx       context.Context
	cancel    context.CancelFunc
}

type Option func(*Config)

// WithSource appends sources; later sources override earlier ones.
func WithSource(src ...Source) Option {
	return func(c *Config) {
		c.srcs = append(c.srcs, src...)
	}
}

func WithDelimiter(d string) Option {
	return func(c *Config) {
		c.delimiter = d
	}
}

func New(opts ...Option) *Config {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Config{
		values:    make(map[string]any),
		watchers:  make(map[string][]func(*Config)),
		delimiter: ".",
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Config) Load() error {
	values, err := c.read()
	if err != nil {
		return err
	}
	c.l.Lock()
	c.values = values
	c.l.Unlock()

	for _, src := range c.srcs {
		src := src
		routine.GoSafe(c.ctx, func() {
			for {
				select {
				case <-c.ctx.Done():
					return
				case _, ok := <-src.Watch():
					if !ok {
						return
					}
					c.reload()
				}
			}
		})
	}
	return nil
}

func (c *Config) read() (map[string]any, error) {
	values := make(map[string]any)
	for _, src := range c.srcs {
		data, err := src.Load()
		if err != nil {
			return nil, err
		}
		codec := encoding.GetCodec(src.Format())
		if codec == nil {
			return nil, errors.Errorf("config: unsupported format %q", src.Format())
		}
		cfg := make(map[string]any)
		if err = codec.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, "config: decode %s", src.Format())
		}
		merge(values, normalize(cfg).(map[string]any))
	}
	return values, nil
}

func (c *Config) reload() {
	values, err := c.read()
	if err != nil {
		logger.Log(c.ctx, logger.ErrorLevel, map[string]interface{}{"error": err}, "config reload")
		return
	}
	c.l.Lock()
	before := flatten(c.values, "", c.delimiter, nil)
	after := flatten(values, "", c.delimiter, nil)
	c.values = values
	changed := make(map[string]struct{})
	for k, v := range after {
		if ov, ok := before[k]; !ok || !reflect.DeepEqual(ov, v) {
			changed[k] = struct{}{}
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed[k] = struct{}{}
		}
	}
	var handlers []func(*Config)
	for prefix, hs := range c.watchers {
		for k := range changed {
			if k == prefix || strings.HasPrefix(k, prefix+c.delimiter) {
				handlers = append(handlers, hs...)
				break
			}
		}
	}
	c.l.Unlock()
	for _, h := range handlers {
		h(c)
	}
}

// Watch registers fn for changes at or below key.
func (c *Config) Watch(key string, fn func(*Config)) {
	c.l.Lock()
	c.watchers[key] = append(c.watchers[key], fn)
	c.l.Unlock()
}

// Scan decodes the subtree at key (or everything) into v using its yaml tags.
func (c *Config) Scan(v any, key ...string) error {
	c.l.RLock()
	var data any = c.values
	if len(key) > 0 && key[0] != "" {
		var ok bool
		if data, ok = search(c.values, strings.Split(key[0], c.delimiter)); !ok {
			c.l.RUnlock()
			return errors.Errorf("config: key %s not found", key[0])
		}
	}
	codec := encoding.GetCodec(yaml.Name)
	raw, err := codec.Marshal(data)
	c.l.RUnlock()
	if err != nil {
		return err
	}
	return codec.Unmarshal(raw, v)
}

func (c *Config) Get(key string) any {
	c.l.RLock()
	defer c.l.RUnlock()
	v, _ := search(c.values, strings.Split(key, c.delimiter))
	return v
}

func (c *Config) GetString(key string) string {
	return cast.ToString(c.Get(key))
}

func (c *Config) GetInt(key string) int {
	return cast.ToInt(c.Get(key))
}

func (c *Config) GetInt64(key string) int64 {
	return cast.ToInt64(c.Get(key))
}

func (c *Config) GetBool(key string) bool {
	return cast.ToBool(c.Get(key))
}

func (c *Config) GetDuration(key string) time.Duration {
	return cast.ToDuration(c.Get(key))
}

func (c *Config) GetStringSlice(key string) []string {
	return cast.ToStringSlice(c.Get(key))
}

func (c *Config) GetStringMapString(key string) map[string]string {
	return cast.ToStringMapString(c.Get(key))
}

func (c *Config) Close() error {
	c.cancel()
	var err error
	for _, src := range c.srcs {
		if e := src.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
