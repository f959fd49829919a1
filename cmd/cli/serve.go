package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/doublegate/prort-ip/internal/api"
	"github.com/doublegate/prort-ip/internal/config"
	"github.com/doublegate/prort-ip/internal/db"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST/WebSocket control-plane API server",
	Long: `serve starts the HTTP API that exposes scan lifecycle control,
host/network inventory, and live progress over REST and WebSocket,
backed by the scan-run catalog database.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config-file", "prortip.yaml", "path to the server config file")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	server, err := api.New(cfg, database)
	if err != nil {
		return fmt.Errorf("construct API server: %w", err)
	}

	fmt.Printf("listening on %s\n", server.GetAddress())
	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
