package etcd

import (
	"context"
	"crypto/tls"
	"time"
)

type option struct {
	ctx         context.Context
	endpoints   []string
	dialTimeout time.Duration
	tls         *tls.Config
	username    string
	password    string
}

type Option func(*option)

func Context(ctx context.Context) Option {
	return func(o *option) {
		o.ctx = ctx
	}
}

func Endpoints(endpoints ...string) Option {
	return func(o *option) {
		o.endpoints = endpoints
	}
}

func DialTimeout(d time.Duration) Option {
	return func(o *option) {
		o.dialTimeout = d
	}
}

func TLS(cfg *tls.Config) Option {
	return func(o *option) {
		o.tls = cfg
	}
}

func Auth(username, password string) Option {
	return func(o *option) {
		o.username = username
		o.password = password
	}
}
