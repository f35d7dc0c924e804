package metrics

import "github.com/prometheus/client_golang/prometheus"

/*
constant label 常量/固定标签对应的value不可变
非固定标签对应的value可通过WithLabelValues改变
labels顺序和values顺序对应
*/

type VecOptions struct {
	name       string
	help       string
	namespace  string
	subSystem  string
	labels     []string
	registerer prometheus.Registerer
}

func newVecOptions() *VecOptions {
	return &VecOptions{
		name:       "vec",
		help:       "help",
		namespace:  "slark",
		subSystem:  "discovery",
		labels:     []string{"service"},
		registerer: prometheus.DefaultRegisterer,
	}
}

type VecOpts func(options *VecOptions)

func Name(name string) VecOpts {
	return func(o *VecOptions) {
		o.name = name
	}
}

func Help(h string) VecOpts {
	return func(o *VecOptions) {
		o.help = h
	}
}

func Namespace(ns string) VecOpts {
	return func(o *VecOptions) {
		o.namespace = ns
	}
}

func SubSystem(s string) VecOpts {
	return func(o *VecOptions) {
		o.subSystem = s
	}
}

func Labels(labels ...string) VecOpts {
	return func(o *VecOptions) {
		o.labels = labels
	}
}

func Registerer(r prometheus.Registerer) VecOpts {
	return func(o *VecOptions) {
		o.registerer = r
	}
}

// register returns the collector already registered under the same
// descriptor, so constructing the same vector twice is harmless.
func register[T prometheus.Collector](r prometheus.Registerer, c T) T {
	if r == nil {
		return c
	}
	if err := r.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
		panic(err)
	}
	return c
}
