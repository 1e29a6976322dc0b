package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the job workers and the content consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			a.hub.Run(ctx)
			return nil
		})
		a.startWorkers(ctx, g)
		if err := a.startConsumer(ctx, g); err != nil {
			return err
		}

		err = g.Wait()
		logger.Info("workers stopped")
		return err
	},
}
