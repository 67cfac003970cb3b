package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomeworks/tome/pkg/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the research API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// Structured logs only under serve; the pretty sink is for
			// interactive use.
			setupLogging(cfg.Logging, false)

			svc, st, err := buildService(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			srv := api.NewServer(svc, host, port)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigs:
				slog.Info("Shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			// An active run keeps writing after the listener closes; wait for
			// it so the store is not closed underneath it.
			svc.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&port, "port", 8585, "listen port")
	return cmd
}
