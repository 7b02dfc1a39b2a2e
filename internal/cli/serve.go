package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rossigee/pagekeeper/internal/api"
	"github.com/rossigee/pagekeeper/internal/auth"
	"github.com/rossigee/pagekeeper/internal/config"
	"github.com/rossigee/pagekeeper/internal/jobs"
	"github.com/rossigee/pagekeeper/internal/reader"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts.cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	core, err := openCore(ctx, cfg, reader.Options{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return err
	}
	defer closeCore(core, cfg.ShutdownTimeout)

	srv, err := newServer(cfg, core)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", srv.Addr).Info("Starting pagekeeper server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logrus.Info("Server exited")
	return nil
}

// newServer wires the API router over core.
func newServer(cfg config.Config, core *reader.Core) (*http.Server, error) {
	validator, err := auth.NewValidator(cfg.APITokens, cfg.APITokensFile)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	handler := api.NewHandler(jobs.NewManager(core, cfg.PageCacheSize), Version)
	api.SetupRoutes(router, handler, validator.Middleware())

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}
