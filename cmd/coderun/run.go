package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// timedOutExitCode follows the timeout(1) convention.
const timedOutExitCode = 124

var (
	languageFlag string
	jsonFlag     bool
)

var runCmd = &cobra.Command{
	Use:   "run <file|->",
	Short: "Run a source file in the sandbox",
	Long: `Run a source file in the sandbox and relay its output.

The program's stdout and stderr are written to ours and its exit code becomes
ours. A timed-out run exits with 124.

Examples:
  coderun run --language py hello.py
  echo 'console.log(1)' | coderun run -l js -`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language key (see 'coderun languages')")
	runCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the result as JSON")
	_ = runCmd.MarkFlagRequired("language")
	rootCmd.AddCommand(runCmd)
}

func readSource(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(cmd, args[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, log, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, execErr := eng.Execute(ctx, languageFlag, string(source))

	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
	}

	switch {
	case execErr != nil:
		return execErr
	case result.TimedOut:
		return &exitError{code: timedOutExitCode}
	case result.ExitCode != 0:
		return &exitError{code: result.ExitCode}
	}
	return nil
}
