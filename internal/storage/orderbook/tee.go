package orderbook

import (
	"context"

	"github.com/vadiminshakov/krakendca/internal/domain"
)

// Tee writes each record to every writer in order and stops at the first failure.
type Tee []Writer

func (t Tee) Write(ctx context.Context, timestamp int64, pair string, record domain.OrderRecord) error {
	for _, w := range t {
		if w == nil {
			continue
		}
		if err := w.Write(ctx, timestamp, pair, record); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether any writer already holds a record for (timestamp, pair).
func (t Tee) Exists(ctx context.Context, timestamp int64, pair string) (bool, error) {
	for _, w := range t {
		if w == nil {
			continue
		}
		ok, err := w.Exists(ctx, timestamp, pair)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
