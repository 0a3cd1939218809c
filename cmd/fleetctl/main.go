// Command fleetctl runs the fleet controller process: the autonomy and
// swing tick loops, the bundler router, and a health endpoint, all wired
// from the environment. It exits on SIGINT/SIGTERM after draining in-flight
// work, the same graceful-shutdown shape as the teacher's payoutd binary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fleetctl/boot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := boot.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fleetctl:", err)
		os.Exit(1)
	}
}
