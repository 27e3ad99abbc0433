package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Wikid82/ferryman/internal/logger"
	"github.com/Wikid82/ferryman/internal/server"
	"github.com/Wikid82/ferryman/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and the renewal scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("ferryman.log")
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log := logger.Log()
		log.WithField("version", version.Full()).Infof("starting %s", version.Name)

		if err := a.manager.RecoverInterrupted(); err != nil {
			log.WithError(err).Error("failed to recover interrupted issuances")
		}
		if err := a.sync.Bootstrap(ctx); err != nil {
			// The API stays up so the operator can fix the offending host.
			log.WithError(err).Error("initial configuration sync failed")
		}

		a.manager.Start(ctx)
		defer a.manager.Stop()

		log.WithField("port", a.cfg.HTTPPort).Info("api listening")
		return server.New(a.cfg, a.dependencies()).Run(ctx)
	},
}
