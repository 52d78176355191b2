package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// flagKeys maps the shared flags to the configuration keys they override.
var flagKeys = map[string]string{
	"host":    "server.host",
	"port":    "server.port",
	"env":     "env",
	"docroot": "docroot",
	"ga-id":   "ga_id",
	"root":    "root",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "appshell",
		Short:         "Single-page application server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "configuration file (default ./appshell.yaml)")
	pf.String("host", "", "interface to bind")
	pf.Int("port", 0, "port to bind")
	pf.String("env", "", "environment: development or production")
	pf.String("docroot", "", "URL path prefix the assets are served under")
	pf.String("ga-id", "", "Google Analytics ID passed to the view")
	pf.String("root", "", "project root holding views and public")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRouteListCmd())
	root.AddCommand(newAssetsRenderCmd())
	root.AddCommand(newConfigShowCmd())
	return root
}

// loadConfig reads the configuration for cmd and installs the logger it
// describes.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.LoadWithFlags(path, cmd.Flags(), flagKeys)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	logger.Configure(logger.Options{
		Level:  cfg.Log.SlogLevel(),
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return cfg, nil
}
