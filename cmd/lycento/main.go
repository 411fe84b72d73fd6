// Lycento is a command-line client for the Lycento licensing service.
//
// It validates, activates and deactivates license keys for the current
// machine and prints the service's answers as JSON, so it can be used from
// install scripts and health checks.
//
// Usage:
//
//	lycento [command] [flags]
//
// Connection settings are read from an optional YAML file, then from
// LYCENTO_* environment variables, then from flags.
// See 'lycento --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/lycento/lycento-sdk-go/lycento"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage prefixes SDK errors with their kind so scripts can tell a
// refused activation from an unreachable service.
func errorMessage(err error) string {
	var lerr *lycento.Error
	if errors.As(err, &lerr) {
		return fmt.Sprintf("[%s] %v", lerr.Kind, err)
	}
	return err.Error()
}
