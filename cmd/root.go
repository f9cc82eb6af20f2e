// Package cmd defines the bytewatch CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/bytewatch/internal/config"
	"github.com/JakeFAU/bytewatch/internal/resolver"
	"github.com/JakeFAU/bytewatch/internal/server"
	"github.com/JakeFAU/bytewatch/internal/stream"
)

type ctxKey string

const configKey ctxKey = "config"

// Commands annotated with configUnchecked get the config without
// validation and check the parts they use themselves.
const (
	annotationConfig = "bytewatch/config"
	configUnchecked  = "unchecked"
)

// App is the application surface commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	ResolveDetailed(ctx context.Context, key stream.ContentKey) (resolver.Resolution, error)
	Close(ctx context.Context) error
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "bytewatch",
		Short: "Resolve movie and episode ids into playable stream URLs.",
		Long: `bytewatch drives headless Chrome against a table of streaming sources,
captures the media requests each page makes and serves the merged results
as a Stremio addon and a JSON API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			load := config.Load
			if cmd.Annotations[annotationConfig] == configUnchecked {
				load = config.Read
			}
			cfg, err := load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(), newResolveCmd(), newSourcesCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("config not loaded")
	}
	return cfg, nil
}

// buildApp constructs the application from the loaded config.
func buildApp(cmd *cobra.Command) (App, error) {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return nil, err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
