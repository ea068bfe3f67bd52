// Package domain defines core data structures shared by the exchange client, the strategy engine and the reporters.
package domain

import "strings"

// JoinPairs returns the comma-joined pair list accepted by the exchange ticker endpoint.
func JoinPairs(pairs []string) string {
	return strings.Join(pairs, ",")
}
