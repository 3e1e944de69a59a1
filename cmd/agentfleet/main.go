// Command agentfleet is the single CLI entry point exposing enqueue, run,
// start, stop, status, and events (history alias) over the orchestrator's
// store, queue, and dispatch loop.
package main

import (
	"fmt"
	"os"

	"github.com/mx-claw/agent-fleet/internal/cli"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
