package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/simgrid/internal/domain"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
	rootCmd    = &cobra.Command{
		Use:   "simgrid",
		Short: "simgrid - factorial simulation runner",
		Long: `simgrid runs a computation over every combination of factor levels in a
design file, replicates each condition, and collects one row per task into
a CSV table. Runs can be stopped, resumed and watched from a dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (logfmt, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a file instead of stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if code == 0 {
			fmt.Fprintln(os.Stderr, "Warning:", err)
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

// exitCode maps errors to process exit codes: 2 for configuration
// errors, 3 for pool failures, 1 for anything else. A failed result flush
// is only a warning: the run itself finished and its rows were reported.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, domain.ErrConfiguration):
		return 2
	case errors.Is(err, domain.ErrPool):
		return 3
	case errors.Is(err, domain.ErrPersistence):
		return 0
	default:
		return 1
	}
}
