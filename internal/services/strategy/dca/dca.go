package dca

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/krakendca/internal/clients"
	"github.com/vadiminshakov/krakendca/internal/domain"
	"github.com/vadiminshakov/krakendca/internal/notify"
	"github.com/vadiminshakov/krakendca/internal/storage/intents"
)

type exchange interface {
	GetTicker(ctx context.Context, pairs []string) (domain.Quotes, error)
	AddOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderReply, error)
}

type recordWriter interface {
	Write(ctx context.Context, timestamp int64, pair string, record domain.OrderRecord) error
	Exists(ctx context.Context, timestamp int64, pair string) (bool, error)
}

type intentJournal interface {
	Prepare(batch int64, intent domain.OrderIntent) (*intents.Record, error)
	MarkDone(rec *intents.Record, reply domain.OrderReply) error
	MarkFailed(rec *intents.Record, cause error) error
	MarkUnrecorded(rec *intents.Record, reply domain.OrderReply, cause error) error
	Pending() []intents.Record
}

// maxBatchShift bounds how far a batch timestamp moves forward to find a free record key.
const maxBatchShift = 60

type notifier interface {
	Notify(ctx context.Context, webhookURL, text string) error
}

// Webhooks are the Slack incoming webhooks. Dry runs report to Dev, live runs to Main.
type Webhooks struct {
	Dev  string
	Main string
}

// DCAStrategy buys every configured pair at the current ask for its fixed budget.
type DCAStrategy struct {
	l        *zap.Logger
	budget   domain.BudgetConfig
	exchange exchange
	records  recordWriter
	journal  intentJournal
	notifier notifier
	hooks    Webhooks
	currency string

	mu  sync.Mutex
	now func() time.Time
}

// NewDCAStrategy validates the budget and wires the collaborators. journal and n may be nil.
func NewDCAStrategy(
	l *zap.Logger,
	budget domain.BudgetConfig,
	ex exchange,
	records recordWriter,
	journal intentJournal,
	n notifier,
	currency string,
	hooks Webhooks,
) (*DCAStrategy, error) {
	if err := budget.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid budget")
	}
	if ex == nil {
		return nil, errors.New("exchange client is required")
	}
	if records == nil {
		return nil, errors.New("order record writer is required")
	}

	return &DCAStrategy{
		l:        l,
		budget:   budget,
		exchange: ex,
		records:  records,
		journal:  journal,
		notifier: n,
		hooks:    hooks,
		currency: currency,
		now:      time.Now,
	}, nil
}

// Info returns the configured budget.
func (d *DCAStrategy) Info() domain.BudgetConfig {
	return d.budget
}

// PendingIntents returns journaled orders that never got a reply or were placed without a record.
func (d *DCAStrategy) PendingIntents() []intents.Record {
	if d.journal == nil {
		return []intents.Record{}
	}
	return d.journal.Pending()
}

// AuditPending logs every pending intent so an operator can reconcile it against the exchange.
func (d *DCAStrategy) AuditPending() int {
	pending := d.PendingIntents()
	for _, rec := range pending {
		d.l.Warn("order intent was never reconciled, check the exchange for this order",
			zap.String("intent_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.String("pair", rec.Pair),
			zap.Int64("batch", rec.Batch),
			zap.Bool("dry_run", rec.DryRun),
			zap.String("volume", rec.Volume.String()),
			zap.String("price", rec.Price.String()),
			zap.String("error", rec.Error))
	}
	return len(pending)
}

// Run executes the configured budget.
func (d *DCAStrategy) Run(ctx context.Context, dryRun bool) (domain.ExecutionReport, error) {
	return d.Execute(ctx, d.budget, dryRun)
}

// Execute places one limit buy per budget entry at the current ask.
// Pairs without a quote are reported as not found. Exchange rejections are part of the report.
// Records of one batch share a timestamp; it moves forward past seconds that already hold a
// record for any configured pair, so no order is placed under a taken key.
// A transport failure while ordering, or a failed record write, stops the batch. The report is
// returned with the error and marks the pairs that were not reached.
func (d *DCAStrategy) Execute(ctx context.Context, budget domain.BudgetConfig, dryRun bool) (domain.ExecutionReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batchTime := d.now()
	report := domain.ExecutionReport{
		Timestamp: batchTime,
		Results:   make([]domain.ExecutionResult, 0, len(budget.Trades)),
	}

	quotes, err := d.exchange.GetTicker(ctx, budget.Pairs())
	if err != nil {
		var exErr *clients.ExchangeError
		if !errors.As(err, &exErr) {
			return report, errors.Wrap(err, "failed to get ticker")
		}
		d.l.Warn("ticker rejected, no pair will be traded", zap.Strings("errors", exErr.Errors))
		quotes = domain.Quotes{}
	}

	ts, err := d.batchTimestamp(ctx, batchTime.Unix(), budget.Pairs())
	if err != nil {
		for _, entry := range budget.Trades {
			report.Results = append(report.Results, domain.AbortedResult(entry.Pair, dryRun))
		}
		return report, err
	}
	if shift := ts - batchTime.Unix(); shift > 0 {
		report.Timestamp = batchTime.Add(time.Duration(shift) * time.Second)
		d.l.Info("order records already exist for this second, batch timestamp moved forward",
			zap.Int64("timestamp", ts))
	}

	for i, entry := range budget.Trades {
		quote, ok := quotes[entry.Pair]
		if !ok {
			d.l.Info("pair not found in ticker data", zap.String("pair", entry.Pair))
			report.Results = append(report.Results, domain.NotFoundResult(entry.Pair, dryRun))
			continue
		}

		result, err := d.buy(ctx, ts, entry, quote, dryRun)
		report.Results = append(report.Results, result)
		if err != nil {
			for _, rest := range budget.Trades[i+1:] {
				report.Results = append(report.Results, domain.AbortedResult(rest.Pair, dryRun))
			}
			return report, err
		}
	}

	return report, nil
}

// batchTimestamp returns the first second at or after ts with no record for any of pairs.
func (d *DCAStrategy) batchTimestamp(ctx context.Context, ts int64, pairs []string) (int64, error) {
	for shift := int64(0); shift < maxBatchShift; shift++ {
		taken, err := d.keyTaken(ctx, ts+shift, pairs)
		if err != nil {
			return 0, err
		}
		if !taken {
			return ts + shift, nil
		}
	}
	return 0, errors.Errorf("no free order record timestamp in %d seconds after %d", maxBatchShift, ts)
}

func (d *DCAStrategy) keyTaken(ctx context.Context, ts int64, pairs []string) (bool, error) {
	for _, pair := range pairs {
		ok, err := d.records.Exists(ctx, ts, pair)
		if err != nil {
			return false, errors.Wrapf(err, "failed to check order record for %s", pair)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (d *DCAStrategy) buy(ctx context.Context, ts int64, entry domain.BudgetEntry, quote domain.TickerQuote, dryRun bool) (domain.ExecutionResult, error) {
	intent, err := domain.NewOrderIntent(entry, quote, dryRun)
	if err != nil {
		d.l.Warn("skipping pair", zap.String("pair", entry.Pair), zap.Error(err))
		return domain.ExecutionResult{Pair: entry.Pair, Meta: err.Error(), DryRun: dryRun}, nil
	}

	result := domain.ExecutionResult{
		Pair:   entry.Pair,
		Task:   intent.Task(),
		DryRun: dryRun,
	}

	var rec *intents.Record
	if d.journal != nil {
		rec, err = d.journal.Prepare(ts, intent)
		if err != nil {
			return result, errors.Wrapf(err, "failed to journal order intent for %s", entry.Pair)
		}
	}

	reply, err := d.exchange.AddOrder(ctx, intent)
	if err != nil {
		d.closeIntent(rec, func() error { return d.journal.MarkFailed(rec, err) })
		return result, errors.Wrapf(err, "failed to place order for %s", entry.Pair)
	}

	result.Reply = &reply

	d.l.Info("order placed",
		zap.String("pair", entry.Pair),
		zap.Bool("dry_run", dryRun),
		zap.String("volume", intent.Volume.String()),
		zap.String("price", intent.Price.String()),
		zap.String("order", reply.Order),
		zap.Strings("errors", reply.Errors))

	intentID := ""
	if rec != nil {
		intentID = rec.ID
	}
	if err := d.records.Write(ctx, ts, entry.Pair, domain.NewOrderRecord(intentID, ts, intent, reply)); err != nil {
		d.closeIntent(rec, func() error { return d.journal.MarkUnrecorded(rec, reply, err) })
		return result, errors.Wrapf(err, "failed to write order record for %s", entry.Pair)
	}
	d.closeIntent(rec, func() error { return d.journal.MarkDone(rec, reply) })

	d.notify(ctx, intent)

	return result, nil
}

func (d *DCAStrategy) closeIntent(rec *intents.Record, closeFn func() error) {
	if d.journal == nil || rec == nil {
		return
	}
	if err := closeFn(); err != nil {
		d.l.Error("failed to close order intent", zap.String("intent_id", rec.ID), zap.Error(err))
	}
}

func (d *DCAStrategy) notify(ctx context.Context, intent domain.OrderIntent) {
	if d.notifier == nil {
		return
	}

	hook := d.hooks.Main
	if intent.DryRun {
		hook = d.hooks.Dev
	}

	if err := d.notifier.Notify(ctx, hook, notify.OrderMessage(d.currency, intent)); err != nil {
		d.l.Error("failed to send order notification", zap.String("pair", intent.Pair), zap.Error(err))
	}
}
