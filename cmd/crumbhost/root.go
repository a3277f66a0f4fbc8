// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/webcrumbs/crumbhost/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the crumbhost CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crumbhost",
		Short: "crumbhost - server-side rendering host for remote UI plugins",
		Long: `crumbhost fetches UI plugins from a plugin source, evaluates their
server code in a sandbox and serves the rendered pages together with the
plugin's client code.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/crumbhost/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewRenderCmd())
	cmd.AddCommand(NewFetchCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewOriginCmd())

	return cmd
}

// loadConfig loads configuration honoring --config and the given flag mapping.
func loadConfig(cmd *cobra.Command, flagKeys map[string]string) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:     configFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // config errors carry their own context
	}
	return cfg, nil
}
