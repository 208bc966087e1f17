// voxcore - voice assistant command resolution server
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:   "voxcore",
		Short: "Voice assistant command resolution and response streaming",
		Long: `voxcore resolves spoken utterances into intents and streams replies back
over websockets, server-sent events or NATS.

Configuration is read from the environment, after loading a .env file when present.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
		PersistentPreRun: func(*cobra.Command, []string) {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
		},
	}
	root.AddCommand(serve, newClassifyCmd(), newIntentsCmd())
	return root
}

func newLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}
