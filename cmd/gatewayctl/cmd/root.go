// Package cmd provides the gatewayctl CLI commands.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	stateDir   string
)

var rootCmd = &cobra.Command{
	Use:   "gatewayctl",
	Short: "Agent Gateway - capability-token API gateway for agent tool calls",
	Long: `gatewayctl runs and administers the agent gateway: it issues
short-lived capability tokens, authorizes and forwards agent tool calls
through a closed adapter set, enforces declarative policy, and supervises
its own health and recovery.

Configuration is a line-oriented KEY=VALUE file (default ./gateway.conf).
Commands:
  serve       Start the gateway HTTP server
  config      Inspect, verify, rollback, or prune the process config
  chaos       View or set per-tool chaos injection
  inventory   Dump agents, policies, and credentials
  hash-key    Generate a SHA-256 hash for an admin bearer token`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// codedError carries a specific process exit code: 0 success,
// 1 generic failure, 2 validation error, 3 lock timeout.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// exitCode wraps a bare exit code with no message, for commands that have
// already printed their own diagnostic.
func exitCode(code int) error {
	return &codedError{code: code, err: fmt.Errorf("exit %d", code)}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var coded *codedError
		if errors.As(err, &coded) {
			os.Exit(coded.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./gateway.conf", "path to the process config file")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state", "./gateway-state", "directory for backups, locks, and audit logs")
}
