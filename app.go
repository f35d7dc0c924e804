// Package discovery runs servers and keeps the process registered in the
// coordination store for as long as they serve.
package discovery

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/logger"
	"github.com/go-slark/discovery/registry"
	"github.com/go-slark/discovery/transport"
	"golang.org/x/sync/errgroup"
)

type App struct {
	opt    *option
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	ins    *registry.Instance
}

func New(opts ...Option) *App {
	o := defaultOption()
	for _, opt := range opts {
		opt(o)
	}
	ctx, cancel := context.WithCancel(o.ctx)
	return &App{
		opt:    o,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Instance is the record the app registers, nil before Run.
func (a *App) Instance() *registry.Instance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ins
}

// Run starts the servers, registers the instance and blocks until a signal
// arrives, Stop is called or a server fails.
func (a *App) Run() error {
	ins, err := a.instance()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ins = ins
	a.mu.Unlock()

	eg, ctx := errgroup.WithContext(a.ctx)
	wg := sync.WaitGroup{}
	for _, srv := range a.opt.servers {
		srv := srv
		eg.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.opt.stopTimeout)
			defer cancel()
			return srv.Stop(sctx)
		})
		wg.Add(1)
		eg.Go(func() error {
			wg.Done()
			return srv.Start(ctx)
		})
	}
	wg.Wait()

	if a.opt.registrar != nil {
		rctx, rcancel := context.WithTimeout(ctx, a.opt.regTimeout)
		err = a.opt.registrar.Register(rctx, ins)
		rcancel()
		if err != nil {
			a.cancel()
			if werr := eg.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
				return werr
			}
			return err
		}
	}
	a.opt.logger.Log(ctx, logger.InfoLevel, logger.Fields(logger.Service(ins.Name), logger.Key(ins.ID)), "app running")

	c := make(chan os.Signal, 1)
	signal.Notify(c, a.opt.sigs...)
	defer signal.Stop(c)
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-c:
			return a.Stop()
		}
	})
	err = eg.Wait()
	if derr := a.deregister(); derr != nil {
		a.opt.logger.Log(ctx, logger.WarnLevel, logger.Fields(logger.Service(ins.Name), logger.Error(derr)), "deregister")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop unregisters the instance and shuts the servers down.
func (a *App) Stop() error {
	err := a.deregister()
	a.cancel()
	return err
}

func (a *App) deregister() error {
	if a.opt.registrar == nil || a.Instance() == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.opt.regTimeout)
	defer cancel()
	return a.opt.registrar.Close(ctx)
}

func (a *App) instance() (*registry.Instance, error) {
	endpoints := make([]string, 0, len(a.opt.endpoints))
	for _, e := range a.opt.endpoints {
		endpoints = append(endpoints, e.String())
	}
	if len(endpoints) == 0 {
		for _, srv := range a.opt.servers {
			e, ok := srv.(transport.Endpointer)
			if !ok {
				continue
			}
			u, err := e.Endpoint()
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, u.String())
		}
	}
	return &registry.Instance{
		ID:        a.opt.id,
		Name:      a.opt.name,
		Version:   a.opt.version,
		Metadata:  a.opt.metadata,
		Endpoints: endpoints,
	}, nil
}
