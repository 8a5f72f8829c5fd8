// Command esgbuctl administers an ESGBU store: schema, catalog seeding,
// formula evaluation, operation recomputation and group locks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "esgbuctl:", err)
		os.Exit(1)
	}
}
