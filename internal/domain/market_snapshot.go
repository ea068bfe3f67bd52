package domain

import "github.com/shopspring/decimal"

// TickerQuote is a per-pair price snapshot. Only Ask is used for sizing and valuation.
type TickerQuote struct {
	Ask  decimal.Decimal `json:"ask"`
	Bid  decimal.Decimal `json:"bid"`
	Last decimal.Decimal `json:"last"`
}

// Quotes maps a trading pair to its quote from one ticker batch.
type Quotes map[string]TickerQuote

// Balances maps an asset code to the raw amount reported by the exchange.
type Balances map[string]string

// SentimentReading is one Fear and Greed index value.
type SentimentReading struct {
	Value          int    `json:"value"`
	Classification string `json:"value_classification"`
}
