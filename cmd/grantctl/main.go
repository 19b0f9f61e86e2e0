// Command grantctl uploads, shares and downloads confidential files whose
// access is governed by on-ledger capabilities. It also runs a key server
// and a local development ledger.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitfsorg/libgrant-go/transfer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		class := transfer.Classify(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if class.Retryable() {
			fmt.Fprintf(os.Stderr, "This looks like a %s problem; retrying may help.\n", class)
		}
		os.Exit(exitCode(class))
	}
}

// exitCode maps a failure class to a process exit status.
func exitCode(c transfer.Class) int {
	switch c {
	case transfer.ClassDenied, transfer.ClassRejected:
		return 3
	case transfer.ClassNotFound:
		return 4
	case transfer.ClassNetwork, transfer.ClassExpired, transfer.ClassConflict:
		return 5
	case transfer.ClassFunds:
		return 6
	default:
		return 1
	}
}
