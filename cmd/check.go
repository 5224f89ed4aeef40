package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/channels"
	signalch "github.com/shuv1337/shuvbot/internal/channels/signal"
	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/store"
)

type checkResult struct {
	Pass   bool             `json:"pass"`
	Reason string           `json:"reason,omitempty"`
	Event  bus.InboundEvent `json:"event"`
	Route  *bus.Route       `json:"route,omitempty"`
}

func checkCmd() *cobra.Command {
	var account string
	var noStore bool
	cmd := &cobra.Command{
		Use:   "check <event.json|->",
		Short: "Evaluate one event against the gate without replying",
		Long:  "Reads a Signal receive payload or a normalized event and prints the gate verdict. Pairing requests are not created.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var ps store.PairingStore
			if !noStore {
				stores, err := openStores(cmd.Context(), cfg)
				if err != nil {
					return err
				}
				defer stores.Close()
				ps = readOnlyPairing{stores.Pairing}
			}

			res, err := checkEvent(cmd.Context(), cfg, ps, data, account)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&account, "account", config.DefaultAccountKey, "account key or number the event arrived on")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "ignore the dynamic allow-list")
	return cmd
}

func readInput(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}

// checkEvent decodes data as a Signal receive payload, falling back to a
// normalized event, and runs it through a fresh gate.
func checkEvent(ctx context.Context, cfg *config.Config, ps store.PairingStore, data []byte, account string) (checkResult, error) {
	acct := cfg.Channels.Signal.ResolveAccount(account)
	ev, ok, err := signalch.ParseEvent(data, acct.Key, acct.Number)
	if err != nil {
		return checkResult{}, err
	}
	if !ok {
		if err := json.Unmarshal(data, &ev); err != nil {
			return checkResult{}, fmt.Errorf("decode event: %w", err)
		}
		if ev.Body == "" && ev.SenderID == "" {
			return checkResult{}, fmt.Errorf("input carries no message (receipt, typing or self-sent)")
		}
		if ev.Channel == "" {
			ev.Channel = signalch.ChannelName
		}
		if ev.AccountID == "" {
			ev.AccountID = acct.Key
		}
	}

	dedupe := bus.NewDedupeCache(0, 0)
	v := channels.NewGate(config.NewHolder(cfg), dedupe, ps).Evaluate(ctx, ev)
	res := checkResult{Pass: v.Pass, Reason: v.Reason, Event: ev}
	if v.Pass {
		res.Route = &v.Route
	}
	return res, nil
}

// readOnlyPairing serves the allow-list but never records pairing requests.
type readOnlyPairing struct {
	store.PairingStore
}

func (readOnlyPairing) UpsertPairingRequest(context.Context, string, string, string) (string, bool, error) {
	return "", false, nil
}
