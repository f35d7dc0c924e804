package main

import (
	"time"

	"github.com/go-slark/discovery/config"
	"github.com/go-slark/discovery/config/source/env"
	"github.com/go-slark/discovery/config/source/file"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/registry"
	"github.com/go-slark/discovery/store/etcd"
)

type Bootstrap struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Etcd struct {
		Endpoints   []string      `yaml:"endpoints"`
		DialTimeout time.Duration `yaml:"dial_timeout"`
		Username    string        `yaml:"username"`
		Password    string        `yaml:"password"`
	} `yaml:"etcd"`
	Registry struct {
		Namespace string        `yaml:"namespace"`
		TTL       int64         `yaml:"ttl"`
		Retry     int           `yaml:"retry"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"registry"`
	Service struct {
		Name     string            `yaml:"name"`
		Version  string            `yaml:"version"`
		Address  string            `yaml:"address"`
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"service"`
	Consumer struct {
		Target   string        `yaml:"target"`
		Picker   string        `yaml:"picker"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"consumer"`
	Metrics struct {
		Address string `yaml:"address"`
	} `yaml:"metrics"`
}

// load reads the bootstrap file with SLARK_ environment overrides, e.g.
// SLARK_ETCD__ENDPOINTS.
func load(path string) (*config.Config, *Bootstrap, error) {
	f, err := file.NewFile(path)
	if err != nil {
		return nil, nil, err
	}
	c := config.New(config.WithSource(f, env.New()))
	if err = c.Load(); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	bc := &Bootstrap{}
	if err = c.Scan(bc); err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	if bc.Log.Level == "" {
		bc.Log.Level = "info"
	}
	logger.SetLogger(logger.NewLog(logger.WithSrvName(bc.Service.Name), logger.WithLevel(bc.Log.Level)))
	return c, bc, nil
}

func (bc *Bootstrap) store() (*etcd.Store, error) {
	opts := []etcd.Option{etcd.Endpoints(bc.Etcd.Endpoints...)}
	if bc.Etcd.DialTimeout > 0 {
		opts = append(opts, etcd.DialTimeout(bc.Etcd.DialTimeout))
	}
	if bc.Etcd.Username != "" {
		opts = append(opts, etcd.Auth(bc.Etcd.Username, bc.Etcd.Password))
	}
	return etcd.New(opts...)
}

func (bc *Bootstrap) registry(extra ...registry.Option) []registry.Option {
	opts := []registry.Option{
		registry.Namespace(bc.Registry.Namespace),
		registry.Retry(bc.Registry.Retry),
		registry.Timeout(bc.Registry.Timeout),
	}
	if bc.Registry.TTL > 0 {
		opts = append(opts, registry.TTL(bc.Registry.TTL))
	}
	return append(opts, extra...)
}
