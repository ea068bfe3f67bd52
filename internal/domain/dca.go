package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BudgetEntry is the periodic budget for one trading pair.
type BudgetEntry struct {
	Pair   string          `yaml:"-" json:"-"`
	Amount decimal.Decimal `yaml:"amount" json:"amount"`
	// Name is the asset code the exchange uses in balance responses (e.g. XXBT).
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// StakeName is an optional secondary balance component holding the staked part of the asset.
	StakeName string `yaml:"stake_name,omitempty" json:"stake_name,omitempty"`
}

// BudgetConfig is an ordered mapping of trading pair to budget entry.
// Order follows the configuration file and is kept for execution and output.
type BudgetConfig struct {
	Interval string
	Trades   []BudgetEntry
}

// Pairs returns configured pairs in order.
func (b BudgetConfig) Pairs() []string {
	pairs := make([]string, 0, len(b.Trades))
	for _, t := range b.Trades {
		pairs = append(pairs, t.Pair)
	}
	return pairs
}

// Validate checks amounts and pair uniqueness.
func (b BudgetConfig) Validate() error {
	seen := make(map[string]struct{}, len(b.Trades))
	for _, t := range b.Trades {
		if t.Pair == "" {
			return fmt.Errorf("trade pair must not be empty")
		}
		if _, ok := seen[t.Pair]; ok {
			return fmt.Errorf("duplicate trade pair %s", t.Pair)
		}
		seen[t.Pair] = struct{}{}
		if t.Amount.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("amount for %s must be positive, got %s", t.Pair, t.Amount.String())
		}
	}
	return nil
}

type budgetConfigYAML struct {
	Interval string    `yaml:"interval"`
	Trades   yaml.Node `yaml:"trades"`
}

// UnmarshalYAML decodes the trades mapping keeping key order.
func (b *BudgetConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw budgetConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	b.Interval = raw.Interval
	b.Trades = nil

	if raw.Trades.Kind == 0 {
		return nil
	}
	if raw.Trades.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: trades must be a mapping of pair to budget", raw.Trades.Line)
	}

	for i := 0; i+1 < len(raw.Trades.Content); i += 2 {
		key, val := raw.Trades.Content[i], raw.Trades.Content[i+1]
		var entry BudgetEntry
		if err := val.Decode(&entry); err != nil {
			return fmt.Errorf("line %d: trade %s: %w", val.Line, key.Value, err)
		}
		entry.Pair = key.Value
		b.Trades = append(b.Trades, entry)
	}

	return nil
}

// MarshalYAML writes trades back as an ordered mapping.
func (b BudgetConfig) MarshalYAML() (interface{}, error) {
	trades := &yaml.Node{Kind: yaml.MappingNode}
	for _, t := range b.Trades {
		var val yaml.Node
		if err := val.Encode(t); err != nil {
			return nil, err
		}
		trades.Content = append(trades.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: t.Pair},
			&val,
		)
	}

	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: "interval"},
			{Kind: yaml.ScalarNode, Value: b.Interval},
			{Kind: yaml.ScalarNode, Value: "trades"},
			trades,
		},
	}, nil
}

// MarshalJSON writes trades as an object in configuration order.
func (b BudgetConfig) MarshalJSON() ([]byte, error) {
	trades, err := marshalOrdered(len(b.Trades), func(i int) (string, any) {
		return b.Trades[i].Pair, b.Trades[i]
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(struct {
		Interval string          `json:"interval"`
		Trades   json.RawMessage `json:"trades"`
	}{Interval: b.Interval, Trades: trades})
}
