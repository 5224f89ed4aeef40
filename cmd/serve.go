package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shuv1337/shuvbot/internal/bus"
	"github.com/shuv1337/shuvbot/internal/channels"
	signalch "github.com/shuv1337/shuvbot/internal/channels/signal"
	"github.com/shuv1337/shuvbot/internal/config"
	"github.com/shuv1337/shuvbot/internal/statusapi"
	"github.com/shuv1337/shuvbot/internal/store"
	"github.com/shuv1337/shuvbot/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive Signal messages and relay the ones that pass the gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	holder := config.NewHolder(cfg)

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	dedupe := bus.NewDedupeCache(cfg.Messages.Dedupe.TTL(), cfg.Messages.Dedupe.MaxEntries)
	gate := channels.NewGate(holder, dedupe, stores.Pairing)
	dispatcher := channels.NewDispatcher(gate, newReplier(cfg), signalch.NewRESTSender(holder), stores.Routes)
	mgr := channels.NewManager(dispatcher)

	if err := registerSources(mgr, cfg); err != nil {
		return err
	}
	slog.Info("shuvbot starting",
		"version", Version,
		"accounts", mgr.GetEnabledAccounts(),
		"receive_mode", cfg.Channels.Signal.ReceiveMode,
		"db_mode", cfg.Database.Mode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return store.RunJanitor(gctx, stores.Pairing, cfg.Pairing.PruneSchedule) })
	if cfg.Admin.Listen != "" {
		api := statusapi.New(Version, signalch.ChannelName, cfg.Admin.Token, mgr, dedupe, stores.Pairing)
		g.Go(func() error { return api.Run(gctx, cfg.Admin.Listen) })
	}
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		accounts := accountKeys(cfg)
		g.Go(func() error {
			return config.Watch(gctx, cfgPath, holder, func(next *config.Config) error {
				if err := gate.CheckIdentities(next); err != nil {
					return err
				}
				if !slices.Equal(accounts, accountKeys(next)) {
					slog.Warn("signal account set changed; restart to start or stop receivers")
				}
				return nil
			})
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("shuvbot stopped")
	return nil
}

// registerSources attaches one event source per enabled account, or a single
// stdin reader when receiveMode is "stdin".
func registerSources(mgr *channels.Manager, cfg *config.Config) error {
	sig := &cfg.Channels.Signal
	if !sig.IsEnabled() {
		slog.Warn("signal channel disabled")
		return nil
	}

	accounts := sig.EnabledAccounts()
	if sig.ReceiveMode == "stdin" {
		if len(accounts) > 1 {
			return fmt.Errorf("receiveMode stdin supports a single account, %d configured", len(accounts))
		}
		key, self := config.DefaultAccountKey, sig.Account
		if len(accounts) == 1 {
			key, self = accounts[0].Key, accounts[0].Number
		}
		mgr.RegisterSource(key, signalch.NewStreamSource(os.Stdin, key, self))
		return nil
	}

	for _, acct := range accounts {
		mgr.RegisterSource(acct.Key, signalch.NewWSSource(acct))
	}
	return nil
}

func accountKeys(cfg *config.Config) []string {
	var keys []string
	for _, a := range cfg.Channels.Signal.EnabledAccounts() {
		keys = append(keys, a.Key)
	}
	return keys
}

// newReplier picks the webhook generator, then the chat-model generator, and
// falls back to a log-only generator when neither is configured.
func newReplier(cfg *config.Config) channels.ReplyGenerator {
	timeout := time.Duration(cfg.Reply.TimeoutMs) * time.Millisecond
	if cfg.Reply.WebhookURL != "" {
		return channels.NewWebhookReplier(cfg.Reply.WebhookURL, timeout)
	}
	if cfg.Reply.OpenAI.Model != "" {
		return channels.NewOpenAIReplier(cfg.Reply.OpenAI, timeout)
	}
	slog.Warn("no reply generator configured; passing events are logged but not answered")
	return channels.ReplyGeneratorFunc(func(ctx context.Context, ev bus.InboundEvent, route bus.Route) (string, error) {
		return "", nil
	})
}
