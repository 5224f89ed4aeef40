package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	signalch "github.com/shuv1337/shuvbot/internal/channels/signal"
	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage pending DM pairing requests",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	return cmd
}

func withStores(cmd *cobra.Command, fn func(*store.Stores) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, err := openStores(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(stores)
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(s *store.Stores) error {
				reqs, err := s.Pairing.ListPairingRequests(cmd.Context(), signalch.ChannelName)
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending pairing requests.")
					return nil
				}
				printPairingTable(cmd.OutOrStdout(), reqs, time.Now())
				return nil
			})
		},
	}
}

func printPairingTable(w io.Writer, reqs []store.PairingRequest, now time.Time) {
	rows := [][]string{{"CODE", "ACCOUNT", "SENDER", "AGE"}}
	for _, r := range reqs {
		rows = append(rows, []string{r.Code, r.AccountID, r.SenderID, now.Sub(r.CreatedAt).Truncate(time.Second).String()})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]+2))
		}
		fmt.Fprintln(w, b.String())
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [code]",
		Short: "Approve a pairing code, adding the sender to the allow-list",
		Long:  "Approves the request behind code. Without a code on an interactive terminal, pick from the pending requests.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(s *store.Stores) error {
				ctx := cmd.Context()
				var code string
				if len(args) == 1 {
					code = args[0]
				} else {
					if !isInteractive() {
						return fmt.Errorf("pairing code required")
					}
					reqs, err := s.Pairing.ListPairingRequests(ctx, signalch.ChannelName)
					if err != nil {
						return err
					}
					if code, err = pickPairingRequest(reqs); err != nil {
						return err
					}
				}

				req, err := s.Pairing.ApprovePairing(ctx, signalch.ChannelName, code)
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("no pending request with code %q (expired or already approved)", store.NormalizeCode(code))
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved %s on account %s.\n", req.SenderID, req.AccountID)
				return nil
			})
		},
	}
}

func pickPairingRequest(reqs []store.PairingRequest) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("no pending pairing requests")
	}
	opts := make([]huh.Option[string], 0, len(reqs))
	for _, r := range reqs {
		opts = append(opts, huh.NewOption(fmt.Sprintf("%s  %s (%s)", r.Code, r.SenderID, r.AccountID), r.Code))
	}
	var code string
	err := huh.NewSelect[string]().
		Title("Approve which pairing request?").
		Options(opts...).
		Value(&code).
		Run()
	if err != nil {
		return "", err
	}
	return code, nil
}

func isInteractive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
