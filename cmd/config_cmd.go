package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shuv1337/shuvbot/internal/channels"
	"github.com/shuv1337/shuvbot/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the config file and report the first error",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			sig := &cfg.Channels.Signal
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			for _, acct := range sig.EnabledAccounts() {
				dm := channels.ResolveDMPolicy(sig, acct.Key)
				fmt.Fprintf(cmd.OutOrStdout(), "  account %-10s %-16s dmPolicy=%s (enabled=%v pairing=%v) groupPolicy=%s groups=%d\n",
					acct.Key, acct.Number, acct.DMPolicy, dm.Enabled, dm.Pairing, acct.GroupPolicy, len(acct.Groups))
			}
			return nil
		},
	}
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults and env applied)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}
