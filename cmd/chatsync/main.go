// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command chatsync keeps host chat channels in sync with linked Discord and
// Mattermost channels in both directions.
package main

import (
	"fmt"
	"os"

	"github.com/aiku/chatsync/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/util/exzerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "chatsync",
	Short:        "Bidirectional chat sync between a host application and Discord or Mattermost",
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Tag, Commit, BuildTime)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
}

// loadConfig reads the config, upgrading it in place, and sets up logging.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to set up logging: %w", err)
	}
	exzerolog.SetupDefaults(log)
	return cfg, log.With().Str("version", Tag).Logger(), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
