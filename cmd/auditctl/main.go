// Command auditctl runs call audits and manages stored reports from the
// command line.
//
// Usage:
//
//	auditctl [--config file] <command> [args]
//
// Commands:
//
//	run      - audit one recording with a live transcription job
//	replay   - audit one recording against a saved transcript
//	batch    - audit every recording listed in an Excel manifest
//	reports  - list, summarize, export or delete an agent's reports
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // loads .env

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
