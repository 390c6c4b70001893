// Command canvasctl drives the canvas sync engine from a terminal
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"canvassync/infrastructure/config"
	"canvassync/infrastructure/di"

	"github.com/spf13/cobra"
)

var (
	configPath string
	backendURL string
	userID     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:           "canvasctl",
	Short:         "Inspect and edit canvas workspaces through the local sync cache",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(config.ConfigPathEnv), "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL (overrides the config)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "User id (overrides the config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")

	rootCmd.AddCommand(pullCmd, askCmd, chatsCmd, messagesCmd, noteCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if userID != "" {
		cfg.UserID = userID
	}
	// flags bypass LoadFrom's validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withContainer runs fn against a freshly wired engine and tears it down afterwards
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *di.Container) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	container, cleanup, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		cleanup()
		_ = container.Logger.Sync()
	}()
	return fn(ctx, container)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
