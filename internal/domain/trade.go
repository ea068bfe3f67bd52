package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderTypeLimit = "limit"
	OrderSideBuy   = "buy"
)

// OrderIntent is a limit buy derived from a budget entry and the current ask.
type OrderIntent struct {
	Pair   string          `json:"pair"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	DryRun bool            `json:"dry_run"`
}

// NewOrderIntent sizes a buy so that volume*price spends amount.
func NewOrderIntent(entry BudgetEntry, quote TickerQuote, dryRun bool) (OrderIntent, error) {
	if quote.Ask.LessThanOrEqual(decimal.Zero) {
		return OrderIntent{}, fmt.Errorf("ask price for %s must be positive, got %s", entry.Pair, quote.Ask.String())
	}

	return OrderIntent{
		Pair:   entry.Pair,
		Amount: entry.Amount,
		Price:  quote.Ask,
		Volume: entry.Amount.Div(quote.Ask),
		DryRun: dryRun,
	}, nil
}

// Task returns a human-readable summary of the intent.
func (o OrderIntent) Task() string {
	return fmt.Sprintf("invest %s: place order %s @ %s", o.Amount.String(), o.Volume.String(), o.Price.String())
}

// OrderReply is either the exchange's order description or its error list.
type OrderReply struct {
	Order  string   `json:"order,omitempty"`
	TxIDs  []string `json:"txid,omitempty"`
	Errors []string `json:"error,omitempty"`
}

// Failed reports whether the exchange rejected the order.
func (r OrderReply) Failed() bool {
	return len(r.Errors) > 0
}

// OrderRecord is the immutable audit entry for one attempted order.
type OrderRecord struct {
	IntentID  string          `json:"intent_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Pair      string          `json:"pair"`
	Task      string          `json:"task"`
	DryRun    bool            `json:"test"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Reply     OrderReply      `json:"reply"`
}

// NewOrderRecord builds the record for an intent and the exchange reply.
func NewOrderRecord(intentID string, timestamp int64, intent OrderIntent, reply OrderReply) OrderRecord {
	return OrderRecord{
		IntentID:  intentID,
		Timestamp: timestamp,
		Pair:      intent.Pair,
		Task:      intent.Task(),
		DryRun:    intent.DryRun,
		Amount:    intent.Amount,
		Price:     intent.Price,
		Volume:    intent.Volume,
		Reply:     reply,
	}
}

// ExecutionResult is the per-pair outcome of one strategy run.
type ExecutionResult struct {
	Pair   string      `json:"-"`
	Task   string      `json:"task,omitempty"`
	Meta   string      `json:"meta,omitempty"`
	DryRun bool        `json:"test"`
	Reply  *OrderReply `json:"reply,omitempty"`
}

// NotFoundResult is the result for a pair without a quote.
func NotFoundResult(pair string, dryRun bool) ExecutionResult {
	return ExecutionResult{
		Pair:   pair,
		Meta:   fmt.Sprintf("%s: not found in ticker data", pair),
		DryRun: dryRun,
	}
}

// AbortedResult is the result for a pair the batch never reached because an earlier pair failed.
func AbortedResult(pair string, dryRun bool) ExecutionResult {
	return ExecutionResult{
		Pair:   pair,
		Meta:   fmt.Sprintf("%s: not attempted, batch aborted", pair),
		DryRun: dryRun,
	}
}

// ExecutionReport holds one result per configured pair in configuration order.
type ExecutionReport struct {
	Timestamp time.Time
	Results   []ExecutionResult
}

// MarshalJSON encodes the report as an object keyed by pair in configuration order.
func (r ExecutionReport) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(r.Results), func(i int) (string, any) {
		return r.Results[i].Pair, r.Results[i]
	})
}

// ByPair returns the results keyed by pair.
func (r ExecutionReport) ByPair() map[string]ExecutionResult {
	out := make(map[string]ExecutionResult, len(r.Results))
	for _, res := range r.Results {
		out[res.Pair] = res
	}
	return out
}
