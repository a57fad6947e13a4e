package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "coderun",
	Short: "coderun - run untrusted code in a sandbox",
	Long: `coderun runs a source file inside a throwaway sandbox with no network,
bounded memory, CPU and process count, and a wall-clock deadline.

It reads the same configuration as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to the config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")
}

// exitError carries the exit code of the sandboxed program.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
