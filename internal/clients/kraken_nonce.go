package clients

import (
	"strconv"
	"sync/atomic"
	"time"
)

// NonceSource hands out strictly increasing nonces seeded from the wall clock in milliseconds.
// Two calls within the same millisecond, or a clock step backwards, still get distinct increasing values.
type NonceSource struct {
	last atomic.Int64
	now  func() time.Time
}

// NewNonceSource returns a nonce source backed by time.Now.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: time.Now}
}

// Next returns the next nonce as a decimal string.
func (n *NonceSource) Next() string {
	return strconv.FormatInt(n.next(), 10)
}

func (n *NonceSource) next() int64 {
	for {
		last := n.last.Load()
		candidate := n.now().UnixMilli()
		if candidate <= last {
			candidate = last + 1
		}
		if n.last.CompareAndSwap(last, candidate) {
			return candidate
		}
	}
}
