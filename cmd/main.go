// Command krakendca serves the Kraken dollar-cost-averaging endpoints.
// Buys are triggered externally (e.g. cron calling /api/strategy/execute);
// there is no scheduler inside the process.
//
// Usage:
//
//	krakendca --config config.yaml
//	krakendca --setup (interactive wizard, writes config.gen.yaml)
//
// Environment variables:
//
//	API_KEY, PRIVATE_KEY              Kraken credentials (required for orders and balance)
//	SLACK_HOOK_DEV, SLACK_HOOK_MAIN   override the configured webhooks
//	USERREF                           override the order user reference
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/config"
	"github.com/vadiminshakov/krakendca/internal/clients"
	"github.com/vadiminshakov/krakendca/internal/notify"
	"github.com/vadiminshakov/krakendca/internal/services/balance"
	"github.com/vadiminshakov/krakendca/internal/services/sentiment"
	"github.com/vadiminshakov/krakendca/internal/services/strategy/dca"
	"github.com/vadiminshakov/krakendca/internal/setup"
	"github.com/vadiminshakov/krakendca/internal/storage/intents"
	"github.com/vadiminshakov/krakendca/internal/storage/orderbook"
	"github.com/vadiminshakov/krakendca/internal/storage/orderbookpg"
	"github.com/vadiminshakov/krakendca/internal/web"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	if cfg.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		if cfg, err = config.FromFile(path, os.Getenv); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Fatal("krakendca stopped", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	if !cfg.HasCredentials() {
		logger.Warn("API_KEY or PRIVATE_KEY is not set, orders and balance requests will fail")
	}

	kraken := clients.NewKrakenClient(logger, cfg.APIKey, cfg.PrivateKey, cfg.UserRef,
		clients.WithBaseURL(cfg.Kraken.URL),
		clients.WithUserAgent(cfg.Kraken.UserAgent),
		clients.WithTimeout(cfg.Kraken.Timeout),
		clients.WithBalanceDenylist(cfg.Kraken.BalanceDenylist),
	)

	files, err := orderbook.NewFileStore(cfg.OrderbookDir)
	if err != nil {
		return err
	}
	records := orderbook.Tee{files}

	if cfg.Records.PostgresDSN != "" {
		pg, err := orderbookpg.New(ctx, cfg.Records.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		records = append(records, pg)
		logger.Info("order records are mirrored to postgres")
	}

	journal, err := intents.NewWALStore(logger, cfg.JournalDir)
	if err != nil {
		return err
	}
	defer journal.Close()

	slack := notify.NewSlack(0)

	strategy, err := dca.NewDCAStrategy(logger, cfg.DCA, kraken, records, journal, slack, cfg.Currency,
		dca.Webhooks{Dev: cfg.Slack.HookDev, Main: cfg.Slack.HookMain})
	if err != nil {
		return err
	}
	if n := strategy.AuditPending(); n > 0 {
		logger.Warn("found unreconciled order intents", zap.Int("count", n))
	}

	balances := balance.NewService(logger, kraken, slack, cfg.DCA, cfg.Currency, cfg.Slack.HookMain)
	fng := sentiment.NewFearGreed(logger, cfg.Sentiment.URL, slack, cfg.Slack.HookMain)

	server := web.NewServer(logger, cfg.Web.Listen, strategy, balances, fng)

	logger.Info("starting",
		zap.String("app", cfg.AppName),
		zap.String("interval", cfg.DCA.Interval),
		zap.Strings("pairs", cfg.DCA.Pairs()))

	if len(cfg.Web.TLSDomains) > 0 {
		return server.StartWithAutoTLS(ctx, cfg.Web.TLSDomains, cfg.Web.CertCache)
	}
	return server.Start(ctx)
}
