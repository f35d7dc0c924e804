package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/go-slark/discovery/registry"
	"github.com/go-slark/discovery/transport/grpc/balancer"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list [service]",
	Short: "print the live instances of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, bc, err := load(conf)
		if err != nil {
			return err
		}
		defer c.Close()
		st, err := bc.store()
		if err != nil {
			return err
		}
		defer st.Close()

		// list only reads records, so connections are not dialed
		disc := registry.NewDiscovery(st, bc.registry(registry.PoolOptions(balancer.WithDialer(nopDial)))...)
		defer disc.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err = disc.Watch(ctx, args[0]); err != nil {
			return err
		}
		m, err := disc.Snapshot(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tID\tVERSION\tTARGET\tMETADATA")
		for _, mem := range m.Members() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", mem.Key, mem.Instance.ID, mem.Instance.Version, mem.Target(), mem.Instance.Metadata)
		}
		return w.Flush()
	},
}

type nopConn struct {
	balancer.Conn
	target string
}

func (c nopConn) Target() string {
	return c.target
}

func (c nopConn) Close() error {
	return nil
}

func nopDial(_ context.Context, target string) (balancer.Conn, error) {
	return nopConn{target: target}, nil
}
