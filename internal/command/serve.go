package command

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamavenir/huddle/internal/backend"
	"github.com/adamavenir/huddle/internal/metrics"
	"github.com/adamavenir/huddle/internal/server"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a reference server backed by an in-memory store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			addr := ctx.Config.Server.Addr
			if flag, _ := cmd.Flags().GetString("addr"); flag != "" {
				addr = flag
			}

			srv := server.New(backend.NewMemory(), server.Options{
				Logger:  ctx.Logger,
				Metrics: metrics.New(),
				RPS:     ctx.Config.Server.RPS,
				Burst:   ctx.Config.Server.Burst,
			})
			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				ctx.Logger.Info().Str("addr", addr).Msg("serving")
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return writeCommandError(cmd, err)
				}
				return nil
			case <-runCtx.Done():
			}

			ctx.Logger.Info().Msg("shutting down")
			srv.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from config, :4117)")
	return cmd
}
