package store

import (
	"context"
	"time"

	"github.com/lib/pq"

	"pointledger/internal/points"
)

const PeriodDaily = "daily"

type UsageStore struct {
	db DB
}

type PeriodKey struct {
	AccountID  string
	Date       time.Time
	PeriodType string
}

type UsagePeriod struct {
	AccountID          string        `db:"account_id"`
	PeriodDate         time.Time     `db:"period_date"`
	PeriodType         string        `db:"period_type"`
	CrawlingOperations int64         `db:"crawling_operations"`
	CrawlingPoints     points.Amount `db:"crawling_points"`
	NLPOperations      int64         `db:"nlp_operations"`
	NLPPoints          points.Amount `db:"nlp_points"`
	ImageOperations    int64         `db:"image_operations"`
	ImagePoints        points.Amount `db:"image_points"`
	ExportOperations   int64         `db:"export_operations"`
	ExportPoints       points.Amount `db:"export_points"`
	TotalOperations    int64         `db:"total_operations"`
	TotalPointsUsed    points.Amount `db:"total_points_used"`
	HourlyOperations   pq.Int64Array `db:"hourly_operations"`
	PeakUsageHour      *int          `db:"peak_usage_hour"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

const usageColumns = `account_id, period_date, period_type,
		       crawling_operations, crawling_points, nlp_operations, nlp_points,
		       image_operations, image_points, export_operations, export_points,
		       total_operations, total_points_used, hourly_operations, peak_usage_hour, updated_at`

func NewUsageStore(db DB) *UsageStore {
	return &UsageStore{db: db}
}

func dateParam(t time.Time) string {
	return t.Format(time.DateOnly)
}

// Ensure creates an empty period row if none exists yet.
func (s *UsageStore) Ensure(ctx context.Context, tx Execer, key PeriodKey) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO point_usage_periods (account_id, period_date, period_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, period_date, period_type) DO NOTHING
	`, key.AccountID, dateParam(key.Date), key.PeriodType)
	return err
}

func (s *UsageStore) GetForUpdate(ctx context.Context, tx Getter, key PeriodKey) (UsagePeriod, error) {
	var row UsagePeriod
	err := tx.GetContext(ctx, &row, `
		SELECT `+usageColumns+`
		FROM point_usage_periods
		WHERE account_id = $1 AND period_date = $2 AND period_type = $3
		FOR UPDATE
	`, key.AccountID, dateParam(key.Date), key.PeriodType)
	if err != nil {
		return UsagePeriod{}, notFound(err)
	}
	return row, nil
}

func (s *UsageStore) Save(ctx context.Context, tx Execer, period UsagePeriod) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE point_usage_periods
		SET crawling_operations = $1, crawling_points = $2,
		    nlp_operations = $3, nlp_points = $4,
		    image_operations = $5, image_points = $6,
		    export_operations = $7, export_points = $8,
		    total_operations = $9, total_points_used = $10,
		    hourly_operations = $11, peak_usage_hour = $12,
		    updated_at = NOW()
		WHERE account_id = $13 AND period_date = $14 AND period_type = $15
	`,
		period.CrawlingOperations, period.CrawlingPoints,
		period.NLPOperations, period.NLPPoints,
		period.ImageOperations, period.ImagePoints,
		period.ExportOperations, period.ExportPoints,
		period.TotalOperations, period.TotalPointsUsed,
		period.HourlyOperations, period.PeakUsageHour,
		period.AccountID, dateParam(period.PeriodDate), period.PeriodType,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRange returns the period rows whose date falls in [from, to], inclusive.
func (s *UsageStore) ListRange(ctx context.Context, accountID, periodType string, from, to time.Time) ([]UsagePeriod, error) {
	return s.ListRangeTx(ctx, s.db, accountID, periodType, from, to)
}

func (s *UsageStore) ListRangeTx(ctx context.Context, q Selecter, accountID, periodType string, from, to time.Time) ([]UsagePeriod, error) {
	var rows []UsagePeriod
	err := q.SelectContext(ctx, &rows, `
		SELECT `+usageColumns+`
		FROM point_usage_periods
		WHERE account_id = $1 AND period_type = $2 AND period_date BETWEEN $3 AND $4
		ORDER BY period_date ASC
	`, accountID, periodType, dateParam(from), dateParam(to))
	if err != nil {
		return nil, err
	}
	return rows, nil
}
