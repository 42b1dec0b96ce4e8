// Command queuectl administers a durable job queue table directly in Postgres.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	cc := &commandContext{open: openStore}
	err := newRootCommand(cc).ExecuteContext(ctx)
	cc.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
