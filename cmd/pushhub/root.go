package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/Priya8975/pushhub/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pushhub",
	Short: "pushhub - feed subscription hub with signed push delivery",
	Long: `pushhub confirms subscriptions to local accounts' feeds, fans new
content out to every subscriber and delivers it with signed, retried
HTTP callbacks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dotenvErr := godotenv.Load(envFile)

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		level, err := cfg.SlogLevel()
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

		if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
			logger.Warn("failed to read env file", "path", envFile, "error", dotenvErr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional file of environment variables")

	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}
