// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aiku/chatsync/pkg/bridge"
	"github.com/aiku/chatsync/pkg/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, catchupCmd, exampleConfigCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service: live listeners and the admin API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the database schema and exit",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var catchupCmd = &cobra.Command{
	Use:   "catchup <connection-id>...",
	Short: "Send unsynced host messages of the given connections",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCatchUp,
}

var exampleConfigCmd = &cobra.Command{
	Use:   "example-config",
	Short: "Print the example config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprint(cmd.OutOrStdout(), config.ExampleConfig)
		return err
	},
}

func newBridge() (*bridge.Bridge, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bridge.New(cfg, log)
}

func runServe(cmd *cobra.Command, _ []string) error {
	b, err := newBridge()
	if err != nil {
		return err
	}
	if len(b.Providers.Names()) == 0 {
		return errors.New("no provider is enabled in the config")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err = b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	<-ctx.Done()
	b.Log.Info().Msg("Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	b.Stop(stopCtx)
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	b, err := newBridge()
	if err != nil {
		return err
	}
	defer b.Stop(cmd.Context())
	if err = b.Migrate(cmd.Context()); err != nil {
		return err
	}
	b.Log.Info().Msg("Database schema is up to date")
	return nil
}

func runCatchUp(cmd *cobra.Command, args []string) error {
	b, err := newBridge()
	if err != nil {
		return err
	}
	defer b.Stop(cmd.Context())
	if err = b.Migrate(cmd.Context()); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed []error
	for _, id := range args {
		res, err := b.CatchUp(cmd.Context(), id)
		if err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if err = enc.Encode(map[string]any{"connection_id": id, "result": res}); err != nil {
			return err
		}
	}
	return errors.Join(failed...)
}
