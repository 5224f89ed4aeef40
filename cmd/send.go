package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/channels"
	signalch "github.com/shuv1337/shuvbot/internal/channels/signal"
	"github.com/shuv1337/shuvbot/internal/config"
)

func sendCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message into the conversation the account last replied to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			holder := config.NewHolder(cfg)
			acct := cfg.Channels.Signal.ResolveAccount(account)
			gate := channels.NewGate(holder, bus.NewDedupeCache(0, 0), stores.Pairing)
			mgr := channels.NewManager(channels.NewDispatcher(gate, nil, signalch.NewRESTSender(holder), stores.Routes))
			return mgr.SendToLastRoute(cmd.Context(), stores.Routes, signalch.ChannelName, acct.Key, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&account, "account", config.DefaultAccountKey, "account key or number to send from")
	return cmd
}
