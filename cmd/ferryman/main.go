package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Wikid82/ferryman/internal/config"
	"github.com/Wikid82/ferryman/internal/executor"
	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/version"
)

var (
	jsonOutput bool
	verbose    bool

	// newRunner is swapped out in tests.
	newRunner = func() executor.Runner { return executor.NewSystemRunner() }
)

var rootCmd = &cobra.Command{
	Use:   "ferryman",
	Short: "nginx proxy host and certificate manager",
	Long: `ferryman renders nginx configuration for proxy hosts stored in its database,
reloads nginx safely and keeps Let's Encrypt certificates issued and renewed.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, syncCmd, sweepCmd, renewCmd, issueCmd, listCmd, seedCmd)
}

// loadApp reads configuration, sets up logging and builds the services.
func loadApp(logName string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Debug || verbose, logger.RotatingOutput(cfg.LogDir, logName))
	return newApp(cfg, newRunner())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Log().WithError(err).Error("command failed")
		os.Exit(1)
	}
}
