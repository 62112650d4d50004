package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fixlab/internal/audit"
	"github.com/JakeFAU/fixlab/internal/fixlab"
)

// AuditService is what the audit command needs from the service.
type AuditService interface {
	StartAudit(ctx context.Context, req audit.StartRequest) (fixlab.Report, error)
}

type auditFlags struct {
	url      string
	store    string
	maxPages int
	maxDepth int
	compact  bool
}

// newAuditCmd creates the 'audit' subcommand. It runs one audit in-process,
// persists it like the API would, and prints the report.
func newAuditCmd() *cobra.Command {
	var flags auditFlags
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Runs one audit and prints the report as JSON",
		Example: `  fixlab audit --url https://shop.example.com --max-pages 6
  fixlab audit --url https://shop.example.com --store acme --compact`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuditCommand(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.url, "url", "", "storefront URL to audit (required)")
	cmd.Flags().StringVar(&flags.store, "store", "", "store label for the session")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "page budget (0 uses the configured default)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "link depth (-1 uses the configured default)")
	cmd.Flags().BoolVar(&flags.compact, "compact", false, "print the report on one line")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runAuditCommand(cmd *cobra.Command, flags auditFlags) (err error) {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := buildApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil && err == nil {
			err = fmt.Errorf("close application: %w", cerr)
		}
	}()

	req := audit.StartRequest{URL: flags.url, Store: flags.store}
	if flags.maxPages > 0 {
		req.MaxPages = &flags.maxPages
	}
	if flags.maxDepth >= 0 {
		req.MaxDepth = &flags.maxDepth
	}

	report, err := app.Service().StartAudit(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if !flags.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
