// Command kronos is the conversational assistant CLI and HTTP gateway.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"kronos/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
