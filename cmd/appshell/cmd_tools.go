package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shashiranjanraj/appshell/pkg/app"
)

// appshell route:list: print the route table in match order.
func newRouteListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route:list",
		Short: "List the registered routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			routes, err := app.RouteTable(cfg)
			if err != nil {
				return err
			}
			return app.WriteRoutes(cmd.OutOrStdout(), routes)
		},
	}
}

// appshell assets:render: build the bundles listed in the manifest.
func newAssetsRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets:render",
		Short: "Build fingerprinted JS and CSS bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := app.RenderAssets(cmd.Context(), cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "assets rendered")
			return nil
		},
	}
}

// appshell config:show: print the effective configuration as YAML.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config:show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.S3.Secret != "" {
				cfg.Storage.S3.Secret = "********"
			}
			if cfg.Cache.Redis.Password != "" {
				cfg.Cache.Redis.Password = "********"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
