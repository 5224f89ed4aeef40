package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuv1337/shuvbot/internal/bus"
	signalch "github.com/shuv1337/shuvbot/internal/channels/signal"
	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/store/pg"
	"github.com/shuv1337/shuvbot/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and Signal connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runDoctor(ctx context.Context, w io.Writer) {
	fmt.Fprintln(w, "shuvbot doctor")
	fmt.Fprintf(w, "  Version:  %s\n", Version)
	fmt.Fprintf(w, "  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  Go:       %s\n", runtime.Version())
	fmt.Fprintln(w)

	cfgPath := resolveConfigPath()
	fmt.Fprintf(w, "  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintln(w, " (NOT FOUND, using defaults)")
	} else {
		fmt.Fprintln(w, " (OK)")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(w, "  Config load error: %s\n", err)
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Database:")
	if cfg.IsManagedMode() {
		checkPostgres(ctx, w, cfg.Database.PostgresDSN)
	} else {
		path := config.ExpandHome(cfg.Database.SQLitePath)
		fmt.Fprintf(w, "    %-12s standalone\n", "Mode:")
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(w, "    %-12s %s (created on first start)\n", "SQLite:", path)
		} else {
			fmt.Fprintf(w, "    %-12s %s (OK)\n", "SQLite:", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Signal:")
	sig := &cfg.Channels.Signal
	if !sig.IsEnabled() {
		fmt.Fprintln(w, "    disabled")
	}
	accounts := sig.EnabledAccounts()
	if sig.IsEnabled() && len(accounts) == 0 {
		fmt.Fprintln(w, "    (no account number configured)")
	}
	for _, acct := range accounts {
		checkSignalAccount(ctx, w, acct)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Reply:")
	if cfg.Reply.WebhookURL != "" {
		fmt.Fprintf(w, "    %-12s %s\n", "Webhook:", cfg.Reply.WebhookURL)
	} else {
		fmt.Fprintf(w, "    %-12s (not configured, log only)\n", "Webhook:")
	}
	if cfg.Telemetry.Enabled {
		fmt.Fprintf(w, "    %-12s %s via %s\n", "Telemetry:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Doctor check complete.")
}

func checkPostgres(ctx context.Context, w io.Writer, dsn string) {
	fmt.Fprintf(w, "    %-12s managed\n", "Mode:")
	db, err := pg.OpenDB(dsn)
	if err != nil {
		fmt.Fprintf(w, "    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(db)
	switch {
	case err != nil:
		fmt.Fprintf(w, "    %-12s CHECK FAILED (%s)\n", "Schema:", err)
	case s.Dirty:
		fmt.Fprintf(w, "    %-12s v%d (DIRTY, run: shuvbot migrate repair)\n", "Schema:", s.CurrentVersion)
	case s.Compatible:
		fmt.Fprintf(w, "    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Fprintf(w, "    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
	default:
		fmt.Fprintf(w, "    %-12s v%d (run: shuvbot migrate up)\n", "Schema:", s.CurrentVersion)
	}

	pending, err := upgrade.PendingHooks(ctx, db, upgrade.RequiredSchemaVersion)
	if err == nil && len(pending) > 0 {
		fmt.Fprintf(w, "    %-12s %d pending\n", "Data hooks:", len(pending))
	} else if err == nil {
		fmt.Fprintf(w, "    %-12s all applied\n", "Data hooks:")
	}
}

func checkSignalAccount(ctx context.Context, w io.Writer, acct config.SignalAccount) {
	label := acct.Key + ":"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	live, err := signalch.NewWSSource(acct).LiveIdentity(ctx)
	switch {
	case errors.Is(err, bus.ErrIdentityMismatch):
		fmt.Fprintf(w, "    %-12s %s NOT REGISTERED at %s\n", label, acct.Number, acct.BaseURL)
		return
	case err != nil:
		fmt.Fprintf(w, "    %-12s %s UNREACHABLE (%s)\n", label, acct.Number, err)
		return
	}

	configured := bus.BotIdentity{Number: acct.Number, UUID: acct.UUID, Name: acct.Name}
	if _, err := configured.Reconcile(live); err != nil {
		fmt.Fprintf(w, "    %-12s %s MISMATCH (%s)\n", label, acct.Number, err)
		return
	}
	fmt.Fprintf(w, "    %-12s %s (OK, dm=%s group=%s)\n", label, acct.Number, acct.DMPolicy, acct.GroupPolicy)
}
