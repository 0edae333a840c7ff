package ledger

import (
	"context"
	"time"

	"pointledger/internal/points"
	"pointledger/internal/store"
)

// LimitEnforcer checks a prospective debit against the account's daily and
// monthly spend limits. A nil limit leaves that dimension unconstrained.
type LimitEnforcer struct {
	usage *UsageAggregator
}

func NewLimitEnforcer(usage *UsageAggregator) *LimitEnforcer {
	return &LimitEnforcer{usage: usage}
}

// Authorize returns nil to allow the debit or a *LimitError naming the first
// limit it would exceed. Daily is checked before monthly.
func (e *LimitEnforcer) Authorize(ctx context.Context, q store.Selecter, account store.Account, amount points.Amount, asOf time.Time) error {
	if account.DailyLimit == nil && account.MonthlyLimit == nil {
		return nil
	}
	from := e.usage.dateOf(asOf)
	if account.MonthlyLimit != nil {
		from = e.usage.monthStart(asOf)
	}
	daily, monthly, err := e.usage.usedSince(ctx, q, account.ID, from, asOf)
	if err != nil {
		return err
	}
	return checkLimits(account.DailyLimit, account.MonthlyLimit, daily, monthly, amount)
}

func checkLimits(dailyLimit, monthlyLimit *points.Amount, dailyUsed, monthlyUsed, amount points.Amount) error {
	if dailyLimit != nil && dailyUsed+amount > *dailyLimit {
		return &LimitError{Reason: LimitDaily, Limit: *dailyLimit, Used: dailyUsed, Requested: amount}
	}
	if monthlyLimit != nil && monthlyUsed+amount > *monthlyLimit {
		return &LimitError{Reason: LimitMonthly, Limit: *monthlyLimit, Used: monthlyUsed, Requested: amount}
	}
	return nil
}

// crossesThreshold reports a downward crossing: previous >= threshold and
// next < threshold.
func crossesThreshold(previous, next, threshold points.Amount) bool {
	return previous >= threshold && next < threshold
}
