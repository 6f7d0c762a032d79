// Command exportd runs analytics exports from the command line and hosts
// the long-running worker that drains the delivery queue.
//
// Configuration is read from a YAML file (--config, or exportd.yaml in the
// working directory or /etc/exportd) and can be overridden with EXPORT_
// environment variables, e.g. EXPORT_STORE_DRIVER=postgres.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
