// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WebCrumbs Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webcrumbs/crumbhost/internal/config"
	"github.com/webcrumbs/crumbhost/internal/xdg"
)

// NewConfigCmd creates the config command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage crumbhost configuration",
	}

	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(schema)); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file against the schema and field rules",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				var err error
				if path, err = xdg.ConfigFile(); err != nil {
					return fmt.Errorf("failed to resolve config path: %w", err)
				}
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			if err := config.ValidateSchema(data); err != nil {
				return fmt.Errorf("%s: %s", path, config.FormatSchemaError(err))
			}
			if _, err := config.Load(config.LoadOptions{Path: path}); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			cmd.Printf("%s is valid\n", path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration that results from layering defaults, the config
file and CRUMBHOST_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			data, err := cfg.YAML()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				var err error
				if path, err = xdg.ConfigFile(); err != nil {
					return fmt.Errorf("failed to resolve config path: %w", err)
				}
			}
			if err := config.WriteDefault(path, force); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
