package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eringen/bamboo"
)

var writeConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the scheduled template sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		if writeConfig != "" {
			if err := bamboo.WriteConfig(writeConfig, app.Config); err != nil {
				return err
			}
			slog.Info("wrote effective config", "path", writeConfig)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() { errc <- app.Start() }()

		select {
		case err = <-errc:
		case <-ctx.Done():
			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err = errors.Join(app.Shutdown(shutdownCtx), <-errc)
		}
		return errors.Join(err, app.Close())
	},
}

func init() {
	serveCmd.Flags().StringVar(&writeConfig, "write-config", "", "write the effective config to this path before serving")
	rootCmd.AddCommand(serveCmd)
}
