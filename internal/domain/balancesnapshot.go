package domain

import "github.com/shopspring/decimal"

// AssetBalance is the valuation of one held asset in the reference currency.
type AssetBalance struct {
	Asset       string          `json:"-"`
	Pair        string          `json:"-"`
	Amount      decimal.Decimal `json:"amount"`
	Value       decimal.Decimal `json:"value"`
	Unavailable bool            `json:"unavailable,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// BalanceSnapshot is the per-asset valuation in configuration order. It is never persisted.
type BalanceSnapshot struct {
	Assets []AssetBalance
}

// MarshalJSON encodes the snapshot as an object keyed by asset in configuration order.
func (s BalanceSnapshot) MarshalJSON() ([]byte, error) {
	return marshalOrdered(len(s.Assets), func(i int) (string, any) {
		return s.Assets[i].Asset, s.Assets[i]
	})
}

// Total sums the value of all available assets.
func (s BalanceSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Assets {
		if a.Unavailable {
			continue
		}
		total = total.Add(a.Value)
	}
	return total
}
