// Package balance values held assets in the reference currency.
package balance

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/clients"
	"github.com/vadiminshakov/krakendca/internal/domain"
	"github.com/vadiminshakov/krakendca/internal/notify"
)

type exchange interface {
	GetBalance(ctx context.Context) (domain.Balances, error)
	GetTicker(ctx context.Context, pairs []string) (domain.Quotes, error)
}

type notifier interface {
	Notify(ctx context.Context, webhookURL, text string) error
}

// Report values every configured pair's asset at the pair's ask price.
// Missing names, balances, quotes or unparsable amounts mark the asset unavailable instead of failing the report.
func Report(budget domain.BudgetConfig, balances domain.Balances, quotes domain.Quotes) domain.BalanceSnapshot {
	snapshot := domain.BalanceSnapshot{Assets: make([]domain.AssetBalance, 0, len(budget.Trades))}

	for _, entry := range budget.Trades {
		snapshot.Assets = append(snapshot.Assets, valuate(entry, balances, quotes))
	}

	return snapshot
}

func valuate(entry domain.BudgetEntry, balances domain.Balances, quotes domain.Quotes) domain.AssetBalance {
	asset := domain.AssetBalance{Asset: entry.Name, Pair: entry.Pair}
	if entry.Name == "" {
		asset.Asset = entry.Pair
		return unavailable(asset, "no asset name configured for %s", entry.Pair)
	}

	amount, err := lookup(balances, entry.Name)
	if err != nil {
		return unavailable(asset, "%s", err.Error())
	}

	if entry.StakeName != "" {
		staked, err := lookup(balances, entry.StakeName)
		if err != nil {
			return unavailable(asset, "%s", err.Error())
		}
		amount = amount.Add(staked)
	}
	asset.Amount = amount

	quote, ok := quotes[entry.Pair]
	if !ok {
		return unavailable(asset, "%s not found in ticker data", entry.Pair)
	}
	asset.Value = amount.Mul(quote.Ask)

	return asset
}

func lookup(balances domain.Balances, name string) (decimal.Decimal, error) {
	raw, ok := balances[name]
	if !ok {
		return decimal.Zero, fmt.Errorf("balance %s not found", name)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s is not a number: %q", name, raw)
	}
	return amount, nil
}

func unavailable(asset domain.AssetBalance, format string, args ...any) domain.AssetBalance {
	asset.Unavailable = true
	asset.Reason = fmt.Sprintf(format, args...)
	asset.Value = decimal.Zero
	return asset
}

// Service fetches balances and quotes and reports them, optionally posting a summary to Slack.
type Service struct {
	exchange exchange
	notifier notifier
	budget   domain.BudgetConfig
	currency string
	webhook  string
	l        *zap.Logger
}

// NewService returns a balance service for the configured budget.
func NewService(l *zap.Logger, ex exchange, n notifier, budget domain.BudgetConfig, currency, webhook string) *Service {
	return &Service{
		exchange: ex,
		notifier: n,
		budget:   budget,
		currency: currency,
		webhook:  webhook,
		l:        l,
	}
}

// Balance returns the valuation of every configured asset.
// Exchange and transport errors of the balance call are returned; a failed ticker call leaves assets unavailable.
func (s *Service) Balance(ctx context.Context, notifySlack bool) (domain.BalanceSnapshot, error) {
	balances, err := s.exchange.GetBalance(ctx)
	if err != nil {
		return domain.BalanceSnapshot{}, errors.Wrap(err, "failed to get balance")
	}

	quotes, err := s.exchange.GetTicker(ctx, s.budget.Pairs())
	if err != nil {
		var exErr *clients.ExchangeError
		if !errors.As(err, &exErr) {
			return domain.BalanceSnapshot{}, errors.Wrap(err, "failed to get ticker")
		}
		quotes = domain.Quotes{}
	}

	snapshot := Report(s.budget, balances, quotes)
	for _, a := range snapshot.Assets {
		if a.Unavailable {
			s.l.Warn("asset unavailable", zap.String("asset", a.Asset), zap.String("reason", a.Reason))
		}
	}

	if notifySlack && s.notifier != nil {
		if err := s.notifier.Notify(ctx, s.webhook, notify.BalanceMessage(s.currency, snapshot)); err != nil {
			s.l.Error("failed to post balance to slack", zap.Error(err))
		}
	}

	return snapshot, nil
}
