package app

// commands.go holds the work behind the CLI sub-commands that do not
// serve traffic.

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shashiranjanraj/appshell/config"
	"github.com/shashiranjanraj/appshell/pkg/router"
)

// RenderAssets builds the asset bundles for cfg without starting a
// listener.
func RenderAssets(ctx context.Context, cfg config.Config, opts ...Option) error {
	s, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defer s.pool.Shutdown()
	return s.assets.Render(ctx)
}

// WriteRoutes prints the route table in registration order.
func WriteRoutes(w io.Writer, routes []router.RouteInfo) error {
	if len(routes) == 0 {
		_, err := fmt.Fprintln(w, "No routes registered.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH\tNAME")
	fmt.Fprintln(tw, "------\t----\t----")
	for _, ri := range routes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", ri.Method, ri.Path, ri.Name)
	}
	return tw.Flush()
}

// RouteTable builds the router for cfg and returns its routes without
// starting a listener.
func RouteTable(cfg config.Config, opts ...Option) ([]router.RouteInfo, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer s.pool.Shutdown()
	return s.Routes(), nil
}
