// chv is a real-time console for the Matrix federation chaos harness.
//
// It connects to the harness websocket, folds the event stream into the
// session state and shows workers, ticks, convergence, netsplits, restarts
// and in-flight federation requests. The same engine drives a headless
// follower that can also inject chaos on a schedule.
//
// Usage:
//
//	chv                              # TUI against server.url (default ws://localhost:7405)
//	chv watch --url ws://host:7405   # same, explicit address
//	chv follow --auto-begin          # print the event stream, start the test
//	chv follow --harness chaos.yaml  # also run netsplit/restart/convergence loops
//	chv dump                         # wait for the config, print a JSON snapshot
//	chv check chaos.yaml             # compatibility of a harness config
//	chv config                       # print the effective config as TOML
//	chv version
package main

import (
	"fmt"
	"os"
)

// Version is set via ldflags at build time (e.g. -X main.Version=v0.1.0).
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chv: %v\n", err)
		os.Exit(1)
	}
}
