package registry

import (
	"context"
	"strings"

	"github.com/go-slark/discovery/encoding/json"
	"github.com/go-slark/discovery/errors"
	"github.com/go-slark/discovery/pkg/endpoint"
	"github.com/go-slark/discovery/transport/grpc/balancer"
)

// Instance describes one running replica of a service. It is stored as JSON
// so any language can read it.
type Instance struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Endpoints []string          `json:"endpoints"`
	Version   string            `json:"version"`
	Metadata  map[string]string `json:"metadata"`
}

func (ins *Instance) Validate() error {
	if ins == nil {
		return errors.InvalidInstance("nil instance")
	}
	if err := validName(ins.Name); err != nil {
		return err
	}
	switch {
	case strings.Contains(ins.ID, "/"):
		return errors.InvalidInstance("instance id contains /")
	case len(ins.Endpoints) == 0:
		return errors.InvalidInstance("no endpoints")
	}
	return nil
}

func validName(name string) error {
	switch {
	case name == "":
		return errors.InvalidInstance("empty service name")
	case strings.Contains(name, "/"):
		return errors.InvalidInstance("service name contains /")
	}
	return nil
}

// Target is the address the pool dials: the first bare or grpc endpoint.
func (ins *Instance) Target() (string, error) {
	return endpoint.Target(ins.Endpoints, "grpc")
}

func (ins *Instance) clone() *Instance {
	c := *ins
	c.Endpoints = append([]string(nil), ins.Endpoints...)
	if ins.Metadata != nil {
		c.Metadata = make(map[string]string, len(ins.Metadata))
		for k, v := range ins.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func Marshal(ins *Instance) ([]byte, error) {
	return json.Codec.Marshal(ins)
}

// Unmarshal rejects values that decode but do not name a service.
func Unmarshal(data []byte) (*Instance, error) {
	ins := &Instance{}
	if err := json.Codec.Unmarshal(data, ins); err != nil {
		return nil, err
	}
	if ins.Name == "" || len(ins.Endpoints) == 0 {
		return nil, errors.New("instance record without name or endpoints")
	}
	return ins, nil
}

// Key is {namespace}/{name}/{id}.
func Key(namespace, name, id string) string {
	return namespace + "/" + name + "/" + id
}

// Prefix is {namespace}/{name}/. The trailing slash keeps "user" from
// matching "user.rpc".
func Prefix(namespace, name string) string {
	return namespace + "/" + name + "/"
}

func normalizeNamespace(ns string) string {
	ns = strings.TrimRight(ns, "/")
	if ns != "" && !strings.HasPrefix(ns, "/") {
		ns = "/" + ns
	}
	return ns
}

// Registrar publishes the calling process.
type Registrar interface {
	Register(ctx context.Context, ins *Instance) error
	Unregister(ctx context.Context) error
	Close(ctx context.Context) error
}

// Resolver yields connections to a named service.
type Resolver interface {
	Watch(ctx context.Context, name string) error
	Resolve(name string) (balancer.Conn, error)
	Snapshot(name string) (*Membership, error)
	Close() error
}
