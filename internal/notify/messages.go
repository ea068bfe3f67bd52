package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

// greedThreshold is the index value above which the market is shown as trending up.
const greedThreshold = 55

// OrderMessage summarises one placed order.
func OrderMessage(currency string, intent domain.OrderIntent) string {
	return fmt.Sprintf(">:ledger: invest %s %s in *%s*\n>:chart_with_upwards_trend: buy %s @ %s",
		currency, intent.Amount.String(), intent.Pair, intent.Volume.Round(4).String(), intent.Price.String())
}

// BalanceMessage lists every asset with its value and the rounded total.
func BalanceMessage(currency string, snapshot domain.BalanceSnapshot) string {
	var b strings.Builder
	b.WriteString("*Balance*\n")

	total := decimal.Zero
	for _, a := range snapshot.Assets {
		if a.Unavailable {
			fmt.Fprintf(&b, ":warning: *%s*: unavailable (%s)\n", a.Asset, a.Reason)
			continue
		}
		value := a.Value.Round(2)
		total = total.Add(value.Round(0))
		fmt.Fprintf(&b, ":moneybag: %s *%s*: %s %s\n", a.Amount.Round(4).String(), a.Asset, currency, value.String())
	}

	fmt.Fprintf(&b, ":memo: Total %d assets @ %s %s", len(snapshot.Assets), currency, total.String())
	return b.String()
}

// SentimentMessage reports the current and previous Fear and Greed readings.
func SentimentMessage(current, previous domain.SentimentReading) string {
	icon := ":chart_with_downwards_trend:"
	if current.Value > greedThreshold {
		icon = ":chart_with_upwards_trend:"
	}
	return fmt.Sprintf(">%s The _Bitcoin Fear and Greed Index_ is *%d/%s* (was: _%d/%s_)",
		icon, current.Value, current.Classification, previous.Value, previous.Classification)
}
