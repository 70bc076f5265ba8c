package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func scanCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Evaluate every enabled rule once and notify new alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			stop, err := a.warmTelemetry(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			warnCold(cmd, a)

			created, err := a.sys.Engine.ScanAndEvaluateAllRules(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d alert(s)\n", len(created))
			for _, rec := range created {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s/%s %s\n", rec.AlertCode, rec.TargetType, rec.TargetID, rec.Severity)
			}
			return nil
		},
	}
}

func recoverCmd(flags *rootFlags) *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover open alerts whose conditions no longer hold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), flags.configPath)
			if err != nil {
				return err
			}
			defer a.close()

			stop, err := a.warmTelemetry(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			warnCold(cmd, a)

			n, err := a.sys.Engine.CheckAndRecoverAlerts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered %d alert(s)\n", n)

			if retry {
				ok, err := a.sys.Dispatcher.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "redelivered %d notification(s)\n", ok)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&retry, "retry-notifications", false, "also retry failed notifications")
	return cmd
}

// warnCold tells the operator that telemetry rules will be skipped.
func warnCold(cmd *cobra.Command, a *app) {
	if !a.readings.Ready() {
		fmt.Fprintln(cmd.ErrOrStderr(), "no telemetry received; telemetry rules are skipped")
	}
}
