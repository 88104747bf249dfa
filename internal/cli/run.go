package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sensextrader/internal/broker"
	"sensextrader/internal/config"
	"sensextrader/internal/db"
	"sensextrader/internal/engine"
	"sensextrader/internal/errs"
	"sensextrader/internal/journal"
	"sensextrader/internal/logs"
	"sensextrader/internal/market"
	"sensextrader/internal/notifier"
	"sensextrader/internal/risk"
	"sensextrader/internal/state"
	"sensextrader/internal/strategy"
	"sensextrader/internal/telemetry"
)

// historyWindow is the rolling sample count used for realized volatility.
const historyWindow = 60

func newRunCmd() *cobra.Command {
	var (
		configPath string
		mode       string
		stratName  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, mode, stratName)
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "trading mode: paper or live (overrides config)")
	cmd.Flags().StringVarP(&stratName, "strategy", "s", "", "strategy name (overrides config)")
	return cmd
}

func loadConfig(path, mode, strat string) (config.Config, error) {
	var cfg config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if mode != "" {
		cfg.Mode = mode
		if mode == config.ModeLive && cfg.Broker == config.BrokerPaper {
			cfg.Broker = config.BrokerBreeze
		}
	}
	if strat != "" {
		cfg.Strategy = strat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runEngine(parent context.Context, cfg config.Config) error {
	if err := logs.Init(logs.Options{
		Level:      cfg.Log.Level,
		FilePath:   cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := config.LoadCredentials()
	cal, err := market.NewCalendar(cfg.MarketHours.Timezone, cfg.MarketHours.Open,
		cfg.MarketHours.Close, cfg.MarketHours.Ignore)
	if err != nil {
		return fmt.Errorf("market calendar: %w", err)
	}

	gateway, paper := buildGateways(cfg, creds)

	storage := buildStorage(cfg)
	defer func() {
		if sqlDB := storage.GetDB(); sqlDB != nil {
			sqlDB.Close()
		}
	}()

	tradeLog, err := journal.NewTradeLog(cfg.Journal.TradeLogPath)
	if err != nil {
		logs.Warnf("trade log unavailable, continuing without: %v", err)
	}
	signalLog, err := journal.NewSignalLog(cfg.Journal.SignalLogPath)
	if err != nil {
		logs.Warnf("signal log unavailable, continuing without: %v", err)
	}

	history := market.NewHistory(historyWindow)
	rm := risk.New(cfg.Risk, cfg.Trading.InitialCapital, cfg.Instruments.Volatility, history)

	strat, err := buildStrategy(cfg)
	if err != nil {
		return err
	}

	var hub *telemetry.Hub
	if cfg.Telemetry.Addr != "" {
		hub = telemetry.NewHub()
		go hub.Run(ctx)
		go telemetry.Serve(ctx, hub, cfg.Telemetry.Addr)
	}

	opts := engine.Options{
		Config:    cfg,
		Gateway:   gateway,
		Paper:     paper,
		Risk:      rm,
		Strategy:  strat,
		Calendar:  cal,
		History:   history,
		Storage:   storage,
		TradeLog:  tradeLog,
		SignalLog: signalLog,
		Notifier:  buildNotifier(cfg, creds),
		State:     state.NewManager(cfg.Journal.StatePath),
	}
	if hub != nil {
		opts.Telemetry = hub
	}
	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	err = eng.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildGateways returns the primary gateway for the configured mode plus
// the paper simulator kept as the degraded-mode fallback. Live mode with
// missing credentials falls back to paper instead of refusing to start.
func buildGateways(cfg config.Config, creds config.Credentials) (broker.Gateway, *broker.Paper) {
	resolver := buildResolver(cfg)
	cache := &broker.MarginCache{Path: cfg.Journal.MarginCachePath}
	fallback := &broker.FallbackQuoteSource{URL: cfg.Brokers.QuoteFallbackURL}

	var live broker.Gateway
	var missing []string
	switch cfg.Broker {
	case config.BrokerBreeze:
		missing = creds.MissingBreeze()
		live = broker.NewBreeze(broker.BreezeOptions{
			BaseURL:     cfg.Brokers.BreezeBaseURL,
			Timeout:     cfg.Brokers.Timeout,
			Credentials: creds,
			Resolver:    resolver,
			MarginCache: cache,
			Fallback:    fallback,
			DefaultCash: cfg.Brokers.MinCapital,
		})
	case config.BrokerKite:
		missing = creds.MissingKite()
		live = broker.NewKite(broker.KiteOptions{
			BaseURL:     cfg.Brokers.KiteBaseURL,
			Timeout:     cfg.Brokers.Timeout,
			Credentials: creds,
			Resolver:    resolver,
			MarginCache: cache,
			Fallback:    fallback,
			DefaultCash: cfg.Brokers.MinCapital,
		})
	}

	// Paper fills use live quotes when a credentialed gateway exists,
	// otherwise the public fallback feed via the live gateway is still
	// reachable through the same quote path.
	var quotes broker.QuoteSource
	if live != nil && len(missing) == 0 {
		quotes = live
	}
	paper := broker.NewPaper(broker.PaperOptions{
		Cash:          cfg.Trading.InitialCapital,
		SlippagePct:   cfg.Trading.SlippagePct,
		CommissionPct: cfg.Trading.CommissionPct,
		Quotes:        quotes,
	})

	if cfg.Mode != config.ModeLive {
		return paper, paper
	}
	if len(missing) > 0 {
		credErr := &errs.CredentialError{Broker: cfg.Broker, Missing: missing}
		logs.Errorf("live mode unavailable, falling back to paper: %v", credErr)
		return paper, paper
	}
	return live, paper
}

func buildResolver(cfg config.Config) *broker.Resolver {
	subs := make(map[string]broker.Substitute, len(cfg.Instruments.Substitutions))
	for sym, sub := range cfg.Instruments.Substitutions {
		subs[sym] = broker.Substitute{Symbol: sub.Symbol, Exchange: sub.Exchange}
	}
	return broker.NewResolver(cfg.Instruments.Indices, subs)
}

// buildStorage prefers Postgres and degrades to the in-memory store when
// the database is not reachable or not configured.
func buildStorage(cfg config.Config) db.Storage {
	if cfg.DB.ConnStr == "" {
		logs.Infof("no database configured, using in-memory storage")
		return db.NewMemory()
	}
	storage, err := db.Open(cfg.DB.ConnStr, cfg.DB.MaxOpen, cfg.DB.MaxIdle)
	if err != nil {
		logs.Warnf("database unreachable, using in-memory storage: %v", err)
		return db.NewMemory()
	}
	return storage
}

func buildStrategy(cfg config.Config) (strategy.Strategy, error) {
	name := cfg.Strategy
	if cfg.Journal.LeaderboardPath != "" {
		name = strategy.PickFromLeaderboard(cfg.Journal.LeaderboardPath, cfg.Strategy, strategy.Known())
	}
	strat, err := strategy.New(name, strategy.Config{
		StopLossPct: cfg.Trading.StopLossPct,
		TargetPct:   cfg.Trading.TargetPct,
		RulesPath:   cfg.Rules.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("strategy %q: %w", name, err)
	}
	return strat, nil
}

func buildNotifier(cfg config.Config, creds config.Credentials) notifier.Notifier {
	var sinks notifier.Multi
	if cfg.Notify.TelegramEnabled {
		if creds.TelegramToken == "" || creds.TelegramChatID == "" {
			logs.Warnf("telegram enabled but TELEGRAM_TOKEN/TELEGRAM_CHAT_ID unset, skipping")
		} else {
			sinks = append(sinks, notifier.Retrying{
				Sink:    notifier.NewTelegramNotifier(creds.TelegramToken, creds.TelegramChatID),
				Retries: cfg.Notify.Retries,
				Delay:   cfg.Notify.RetryDelay,
			})
		}
	}
	if cfg.Notify.EmailEnabled {
		email, err := notifier.NewEmailNotifier(creds.EmailHost, creds.EmailPort,
			creds.EmailUser, creds.EmailPass, creds.EmailRecipient)
		if err != nil {
			logs.Warnf("email notifier misconfigured, skipping: %v", err)
		} else {
			sinks = append(sinks, notifier.Retrying{
				Sink:    email,
				Retries: cfg.Notify.Retries,
				Delay:   cfg.Notify.RetryDelay,
			})
		}
	}
	if len(sinks) == 0 {
		return notifier.Noop{}
	}
	return sinks
}
