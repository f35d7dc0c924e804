package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var conf string

var rootCmd = &cobra.Command{
	Use:   "discovery",
	Short: "service registration and discovery over etcd",
	Long:  "Register a gRPC server in etcd, or discover and call the instances of a service.",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&conf, "conf", "c", "configs/discovery.yaml", "bootstrap config file")
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(consumerCmd)
	rootCmd.AddCommand(listCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
