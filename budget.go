package paygate

import (
	"fmt"
	"sync"
	"time"
)

// defaultHistorySize bounds the budget's spend history.
const defaultHistorySize = 50

// budgetWindow is the rolling window after which daily spend resets.
const budgetWindow = 24 * time.Hour

// SpendRecord is one confirmed spend in the budget history.
type SpendRecord struct {
	Amount     int64     `json:"amount"`
	ResourceID string    `json:"resourceId"`
	At         time.Time `json:"at"`
}

// BudgetStatus is a point-in-time snapshot of a budget.
type BudgetStatus struct {
	DailyLimit      int64         `json:"dailyLimit"`
	PerRequestLimit int64         `json:"perRequestLimit"`
	DailySpent      int64         `json:"dailySpent"`
	DailyRemaining  int64         `json:"dailyRemaining"`
	TotalSpent      int64         `json:"totalSpent"`
	SpendCount      int64         `json:"spendCount"`
	Recent          []SpendRecord `json:"recent"`
}

// Budget is a caller-local, advisory spend ceiling: a circuit breaker
// against runaway local spend, checked before any network call. It is not an
// accounting ledger: the facilitator's balance is the source of truth, and
// budget state does not survive a process restart.
type Budget struct {
	mu              sync.Mutex
	dailyLimit      int64
	perRequestLimit int64
	dailySpent      int64
	totalSpent      int64
	spendCount      int64
	windowStart     time.Time
	history         []SpendRecord
	maxHistory      int
	now             func() time.Time
}

// BudgetOption configures a Budget.
type BudgetOption func(*Budget)

// WithHistorySize bounds the number of retained spend records.
func WithHistorySize(n int) BudgetOption {
	return func(b *Budget) {
		if n > 0 {
			b.maxHistory = n
		}
	}
}

// WithClock overrides the budget's clock. Used by tests to drive the
// day-window rollover.
func WithClock(now func() time.Time) BudgetOption {
	return func(b *Budget) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBudget creates a budget with the given ceilings. A limit of 0 means
// unlimited for that dimension.
func NewBudget(dailyLimit, perRequestLimit int64, opts ...BudgetOption) *Budget {
	b := &Budget{
		dailyLimit:      dailyLimit,
		perRequestLimit: perRequestLimit,
		maxHistory:      defaultHistorySize,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.windowStart = b.now()
	return b
}

// rollover resets the daily counter once per rolling 24h window.
// Caller must hold b.mu.
func (b *Budget) rollover() {
	if b.now().Sub(b.windowStart) >= budgetWindow {
		b.dailySpent = 0
		b.windowStart = b.now()
	}
}

// CanSpend reports whether a spend of the given amount is allowed, and why
// not when it isn't. It never consults the facilitator.
func (b *Budget) CanSpend(amount int64) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	if b.perRequestLimit > 0 && amount > b.perRequestLimit {
		return false, fmt.Sprintf(
			"request costs %d credits but per-request limit is %d",
			amount, b.perRequestLimit)
	}
	if b.dailyLimit > 0 && b.dailySpent+amount > b.dailyLimit {
		return false, fmt.Sprintf(
			"request costs %d credits but only %d remaining in daily budget (%d)",
			amount, b.dailyLimit-b.dailySpent, b.dailyLimit)
	}
	return true, ""
}

// RecordSpend records a confirmed spend. Call it only after observing a
// successful settlement receipt, never speculatively before the call.
func (b *Budget) RecordSpend(amount int64, resourceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	b.dailySpent += amount
	b.totalSpent += amount
	b.spendCount++
	b.history = append(b.history, SpendRecord{
		Amount:     amount,
		ResourceID: resourceID,
		At:         b.now(),
	})
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}

// Status returns a snapshot of the budget.
func (b *Budget) Status() BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()

	remaining := int64(0)
	if b.dailyLimit > 0 {
		remaining = b.dailyLimit - b.dailySpent
	}
	recent := make([]SpendRecord, len(b.history))
	copy(recent, b.history)
	return BudgetStatus{
		DailyLimit:      b.dailyLimit,
		PerRequestLimit: b.perRequestLimit,
		DailySpent:      b.dailySpent,
		DailyRemaining:  remaining,
		TotalSpent:      b.totalSpent,
		SpendCount:      b.spendCount,
		Recent:          recent,
	}
}
