package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/Priya8975/pushhub/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub endpoint, the delivery workers and the content consumer",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply pending migrations at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !skipMigrations {
		if _, err := a.pg.RunMigrations(cmd.Context(), os.DirFS(cfg.MigrationsDir)); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	a.startWorkers(ctx, g)
	if err := a.startConsumer(ctx, g); err != nil {
		return err
	}

	router := api.NewRouter(api.Handlers{
		Push:      api.NewPushHandler(a.pg, a.queue, a.links, logger),
		Dashboard: api.NewDashboardHandler(a.pg, a.guard),
		Health:    api.HealthHandler(a.queue, a.hub),
		Hub:       a.hub,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
