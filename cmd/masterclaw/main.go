// File: cmd/masterclaw/main.go
// Brief: Main masterclaw CLI entrypoint and signal-aware execution.

// main.go bootstraps masterclaw: it builds the root Cobra command and
// executes it under a signal-aware context, matching the teacher's
// cmd/ktl/main.go pattern (cooperative cancellation on first
// SIGINT/SIGTERM, a hard exit on a second one).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh // first interrupt cancels ctx via NotifyContext; no-op here
		<-sigCh // second interrupt forces exit, matching §5's cooperative-but-bounded cancellation
		fmt.Fprintln(os.Stderr, "\ninterrupt: forcing exit")
		os.Exit(130)
	}()

	root, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	execErr := root.ExecuteContext(ctx)
	os.Exit(exitCodeFromExecute(execErr))
}
