package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:   "evchan",
		Short: "Exercise evchan channels, streams and watchdogs",
		Long: `evchan runs small in-process scenarios on top of the evchan library:
a multi-producer throughput run and a watchdog that publishes bites
through a write stream.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newBenchCommand())
	rootCmd.AddCommand(newWatchdogCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
