package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spendsync/internal/backend"
	"spendsync/internal/cli"
	"spendsync/internal/config"
	"spendsync/internal/gateway"
	"spendsync/internal/log"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Create and export expense reports",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Freeze the session user's expenses into a report",
		Args:  cobra.NoArgs,
		RunE:  runReportCreate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <id>",
		Short: "Export a stored report to the configured spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportExport,
	})
	return cmd
}

// buildBackend wires the configured backend without touching the session.
func buildBackend(cmd *cobra.Command) (*config.Config, *backend.BackendResult, error) {
	cfg, logger, err := cli.Bootstrap()
	if err != nil {
		return nil, nil, err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend)).CreateBackend(cmd.Context(), backendCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create backend: %w", err)
	}
	return cfg, res, nil
}

// openBackend is buildBackend plus a sign-in as the configured session user.
func openBackend(cmd *cobra.Command) (*backend.BackendResult, error) {
	cfg, res, err := buildBackend(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := res.Session.SignIn(cmd.Context(), cfg.SessionEmail, cfg.SessionName, ""); err != nil {
		_ = res.Cleanup()
		return nil, fmt.Errorf("sign in %s: %w", cfg.SessionEmail, err)
	}
	return res, nil
}

func runReportCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	res, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	user, err := res.Session.CurrentUser(ctx)
	if err != nil {
		return err
	}
	gw, _ := res.SelectGateway(ctx)
	list, err := gw.GetExpenses(ctx, gateway.Query{})
	if err != nil {
		return fmt.Errorf("list expenses: %w", err)
	}
	report, err := res.Reports.Generate(ctx, user.ID, list)
	if err != nil {
		return err
	}
	cmd.Printf("report %s: %d expense(s), total %s\n", report.ID, report.Stats.TotalCount, report.Stats.TotalAmount)
	return nil
}

func runReportExport(cmd *cobra.Command, args []string) error {
	res, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	ref, err := res.Reports.Export(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cmd.Printf("report %s exported to %s\n", args[0], ref)
	return nil
}
