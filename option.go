package discovery

import (
	"context"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/registry"
	"github.com/go-slark/discovery/transport"
)

type option struct {
	id        string
	name      string
	version   string
	metadata  map[string]string
	endpoints []*url.URL

	ctx         context.Context
	sigs        []os.Signal
	logger      logger.Logger
	registrar   registry.Registrar
	regTimeout  time.Duration
	stopTimeout time.Duration
	servers     []transport.Server
}

type Option func(*option)

func ID(id string) Option {
	return func(o *option) { o.id = id }
}

func Name(name string) Option {
	return func(o *option) { o.name = name }
}

func Version(version string) Option {
	return func(o *option) { o.version = version }
}

func Metadata(md map[string]string) Option {
	return func(o *option) { o.metadata = md }
}

// Endpoint overrides the endpoints collected from the servers.
func Endpoint(endpoints ...*url.URL) Option {
	return func(o *option) { o.endpoints = endpoints }
}

func Context(ctx context.Context) Option {
	return func(o *option) { o.ctx = ctx }
}

func Signal(sigs ...os.Signal) Option {
	return func(o *option) { o.sigs = sigs }
}

func Logger(l logger.Logger) Option {
	return func(o *option) { o.logger = l }
}

func Registrar(r registry.Registrar) Option {
	return func(o *option) { o.registrar = r }
}

func RegistrarTimeout(d time.Duration) Option {
	return func(o *option) { o.regTimeout = d }
}

func StopTimeout(d time.Duration) Option {
	return func(o *option) { o.stopTimeout = d }
}

func Server(srv ...transport.Server) Option {
	return func(o *option) { o.servers = srv }
}

func defaultOption() *option {
	return &option{
		ctx:         context.Background(),
		sigs:        []os.Signal{syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT},
		logger:      logger.GetLogger(),
		regTimeout:  10 * time.Second,
		stopTimeout: 10 * time.Second,
	}
}
