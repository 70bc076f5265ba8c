package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "alertd",
		Short:         "Water-site alert rule evaluation and notification engine",
		Long:          `alertd evaluates threshold rules against site, device, task and host readings, keeps deduplicated alert records and notifies the configured recipients.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ./alertd.yaml or /etc/alertd/alertd.yaml)")

	cmd.AddCommand(serveCmd(flags))
	cmd.AddCommand(scanCmd(flags))
	cmd.AddCommand(recoverCmd(flags))
	cmd.AddCommand(migrateCmd(flags))
	return cmd
}
