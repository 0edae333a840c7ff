package ledger

import (
	"context"
	"time"

	"github.com/lib/pq"

	"pointledger/internal/points"
	"pointledger/internal/store"
)

const hoursPerDay = 24

type UsageStore interface {
	Ensure(ctx context.Context, tx store.Execer, key store.PeriodKey) error
	GetForUpdate(ctx context.Context, tx store.Getter, key store.PeriodKey) (store.UsagePeriod, error)
	Save(ctx context.Context, tx store.Execer, period store.UsagePeriod) error
	ListRange(ctx context.Context, accountID, periodType string, from, to time.Time) ([]store.UsagePeriod, error)
	ListRangeTx(ctx context.Context, q store.Selecter, accountID, periodType string, from, to time.Time) ([]store.UsagePeriod, error)
}

// UsageAggregator keeps the daily usage rollups. Writes run inside the
// caller's transaction so usage and balance commit together.
type UsageAggregator struct {
	store UsageStore
	loc   *time.Location
}

func NewUsageAggregator(usage UsageStore, loc *time.Location) *UsageAggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageAggregator{store: usage, loc: loc}
}

// dateOf truncates t to midnight of its calendar day in the ledger location.
func (a *UsageAggregator) dateOf(t time.Time) time.Time {
	local := t.In(a.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
}

func (a *UsageAggregator) monthStart(t time.Time) time.Time {
	local := t.In(a.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, a.loc)
}

// RecordUsage adds one operation of amount points to the daily record that
// contains occurredAt.
func (a *UsageAggregator) RecordUsage(ctx context.Context, tx store.Tx, accountID, category string, amount points.Amount, occurredAt time.Time) error {
	return a.apply(ctx, tx, accountID, category, amount, occurredAt, 1)
}

// ReverseUsage removes a previously recorded operation, used when a debit is
// reversed.
func (a *UsageAggregator) ReverseUsage(ctx context.Context, tx store.Tx, accountID, category string, amount points.Amount, occurredAt time.Time) error {
	return a.apply(ctx, tx, accountID, category, amount, occurredAt, -1)
}

func (a *UsageAggregator) apply(ctx context.Context, tx store.Tx, accountID, category string, amount points.Amount, occurredAt time.Time, sign int64) error {
	key := store.PeriodKey{AccountID: accountID, Date: a.dateOf(occurredAt), PeriodType: store.PeriodDaily}
	if err := a.store.Ensure(ctx, tx, key); err != nil {
		return err
	}
	period, err := a.store.GetForUpdate(ctx, tx, key)
	if err != nil {
		return err
	}
	period = applyUsage(period, normalizeCategory(category), amount, occurredAt.In(a.loc).Hour(), sign)
	return a.store.Save(ctx, tx, period)
}

// GetPeriodTotal aggregates the records of periodType dated within [from, to].
func (a *UsageAggregator) GetPeriodTotal(ctx context.Context, accountID, periodType string, from, to time.Time) (UsageTotals, error) {
	periodType, err := normalizePeriodType(periodType)
	if err != nil {
		return UsageTotals{}, err
	}
	from, to = a.dateOf(from), a.dateOf(to)
	if to.Before(from) {
		return UsageTotals{}, ErrInvalidPeriod
	}
	rows, err := a.store.ListRange(ctx, accountID, periodType, from, to)
	if err != nil {
		return UsageTotals{}, err
	}
	totals := sumUsage(rows)
	totals.AccountID = accountID
	totals.PeriodType = periodType
	totals.From = from.Format(time.DateOnly)
	totals.To = to.Format(time.DateOnly)
	return totals, nil
}

// usedSince returns the points used on days [from, asOf] as seen inside tx.
func (a *UsageAggregator) usedSince(ctx context.Context, q store.Selecter, accountID string, from, asOf time.Time) (day, span points.Amount, err error) {
	today := a.dateOf(asOf)
	rows, err := a.store.ListRangeTx(ctx, q, accountID, store.PeriodDaily, a.dateOf(from), today)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		span += row.TotalPointsUsed
		if sameDate(row.PeriodDate, today) {
			day += row.TotalPointsUsed
		}
	}
	return day, span, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func normalizePeriodType(periodType string) (string, error) {
	switch normalizeCategory(periodType) {
	case "", store.PeriodDaily:
		return store.PeriodDaily, nil
	}
	return "", ErrInvalidPeriod
}

// applyUsage is the pure counter update behind RecordUsage and ReverseUsage.
// sign is +1 to record an operation and -1 to remove one.
func applyUsage(period store.UsagePeriod, category string, amount points.Amount, hour int, sign int64) store.UsagePeriod {
	delta := points.Amount(sign) * amount
	switch category {
	case CategoryCrawling:
		period.CrawlingOperations += sign
		period.CrawlingPoints += delta
	case CategoryNLP:
		period.NLPOperations += sign
		period.NLPPoints += delta
	case CategoryImage:
		period.ImageOperations += sign
		period.ImagePoints += delta
	case CategoryExport:
		period.ExportOperations += sign
		period.ExportPoints += delta
	}
	period.TotalOperations += sign
	period.TotalPointsUsed += delta

	hourly := make(pq.Int64Array, hoursPerDay)
	copy(hourly, period.HourlyOperations)
	if hour >= 0 && hour < hoursPerDay {
		hourly[hour] += sign
		if hourly[hour] < 0 {
			hourly[hour] = 0
		}
	}
	period.HourlyOperations = hourly
	period.PeakUsageHour = peakHour(hourly)
	return period
}

// peakHour returns the busiest hour, preferring the earliest on ties, or nil
// when no operation has been recorded.
func peakHour(hourly []int64) *int {
	best := -1
	var bestCount int64
	for hour, count := range hourly {
		if count > bestCount {
			best = hour
			bestCount = count
		}
	}
	if best < 0 {
		return nil
	}
	return &best
}

func sumUsage(rows []store.UsagePeriod) UsageTotals {
	totals := UsageTotals{Categories: map[string]CategoryUsage{
		CategoryCrawling: {},
		CategoryNLP:      {},
		CategoryImage:    {},
		CategoryExport:   {},
	}}
	hourly := make([]int64, hoursPerDay)
	add := func(category string, ops int64, pts points.Amount) {
		c := totals.Categories[category]
		c.Operations += ops
		c.Points += pts
		totals.Categories[category] = c
	}
	for _, row := range rows {
		add(CategoryCrawling, row.CrawlingOperations, row.CrawlingPoints)
		add(CategoryNLP, row.NLPOperations, row.NLPPoints)
		add(CategoryImage, row.ImageOperations, row.ImagePoints)
		add(CategoryExport, row.ExportOperations, row.ExportPoints)
		totals.TotalOperations += row.TotalOperations
		totals.TotalPoints += row.TotalPointsUsed
		for hour, count := range row.HourlyOperations {
			if hour < hoursPerDay {
				hourly[hour] += count
			}
		}
	}
	totals.Periods = len(rows)
	totals.PeakUsageHour = peakHour(hourly)
	return totals
}
