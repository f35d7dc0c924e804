package transport

import (
	"context"
	"net/url"
)

type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Endpointer reports the address a server is reachable at, the value an
// instance record advertises.
type Endpointer interface {
	Endpoint() (*url.URL, error)
}
