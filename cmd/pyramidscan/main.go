// Command pyramidscan drives pyramid TIFF reads/writes and shards
// frame-scans across a cluster, the CLI surface over the orchestrator,
// pyramid, tiff and scan packages.
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
