package worker

import (
	"sync/atomic"
	"time"
)

// Budget bounds a whole run by fetched items and wall-clock time. Once spent,
// workers finish the page in flight and issue no further requests.
type Budget struct {
	maxItems int64
	deadline time.Time
	now      func() time.Time

	items   atomic.Int64
	stopped atomic.Bool
}

// NewBudget creates a run budget. Zero values mean unbounded.
func NewBudget(maxItems int, maxDuration time.Duration) *Budget {
	b := &Budget{maxItems: int64(maxItems), now: time.Now}
	if maxDuration > 0 {
		b.deadline = time.Now().Add(maxDuration)
	}
	return b
}

// Add records n fetched items
func (b *Budget) Add(n int) {
	b.items.Add(int64(n))
}

// Items returns how many items have been fetched
func (b *Budget) Items() int64 {
	return b.items.Load()
}

// Stop spends the budget immediately. Used for graceful shutdown.
func (b *Budget) Stop() {
	b.stopped.Store(true)
}

// Spent reports whether new requests must stop
func (b *Budget) Spent() bool {
	if b.stopped.Load() {
		return true
	}
	if b.maxItems > 0 && b.items.Load() >= b.maxItems {
		return true
	}
	return !b.deadline.IsZero() && !b.now().Before(b.deadline)
}

// Remaining returns how many items may still be fetched, or -1 when the
// item budget is unbounded.
func (b *Budget) Remaining() int {
	if b.maxItems <= 0 {
		return -1
	}
	left := b.maxItems - b.items.Load()
	if left < 0 {
		return 0
	}
	return int(left)
}
