package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fixlab/internal/config"
	"github.com/JakeFAU/fixlab/internal/server"
)

var cfgFile string

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// App is the slice of *server.App the commands use. Tests swap buildApp to
// return a fake.
type App interface {
	Run(ctx context.Context) error
	Service() AuditService
	Close(ctx context.Context) error
}

// buildApp is the application factory.
var buildApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

// serverApp adapts *server.App to App.
type serverApp struct{ *server.App }

func (a serverApp) Service() AuditService { return a.App.Service() }

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixlab",
		Short: "Conversion and UI audits for storefronts.",
		Long: `fixlab crawls a storefront with headless Chrome, runs conversion and UI
heuristics on every page it captures, and produces a ranked, approvable
fix list. Run "fixlab serve" for the HTTP API or "fixlab audit" for a
one-shot audit printed as JSON.`,
		SilenceUsage: true,

		// Config is loaded once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json, or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fixlab:", err)
		os.Exit(1)
	}
}
