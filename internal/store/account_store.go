package store

import (
	"context"
	"time"

	"pointledger/internal/points"
)

type AccountStore struct {
	db DB
}

type Account struct {
	ID                   string         `db:"id"`
	UserID               string         `db:"user_id"`
	InitialPoints        points.Amount  `db:"initial_points"`
	CurrentPoints        points.Amount  `db:"current_points"`
	TotalSpent           points.Amount  `db:"total_spent"`
	TotalPurchased       points.Amount  `db:"total_purchased"`
	DailyLimit           *points.Amount `db:"daily_limit"`
	MonthlyLimit         *points.Amount `db:"monthly_limit"`
	LowBalanceThreshold  points.Amount  `db:"low_balance_threshold"`
	NotificationsEnabled bool           `db:"notifications_enabled"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

type AccountInput struct {
	ID                   string
	UserID               string
	InitialPoints        points.Amount
	DailyLimit           *points.Amount
	MonthlyLimit         *points.Amount
	LowBalanceThreshold  points.Amount
	NotificationsEnabled bool
}

type AccountSettings struct {
	DailyLimit           *points.Amount
	MonthlyLimit         *points.Amount
	LowBalanceThreshold  points.Amount
	NotificationsEnabled bool
}

// BalanceUpdate carries the new balance together with the lifetime total
// increments for a single committed transaction.
type BalanceUpdate struct {
	AccountID      string
	Balance        points.Amount
	SpentDelta     points.Amount
	PurchasedDelta points.Amount
}

const accountColumns = `id, user_id, initial_points, current_points, total_spent, total_purchased,
		       daily_limit, monthly_limit, low_balance_threshold, notifications_enabled,
		       created_at, updated_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

// Create inserts the account unless one already exists for the user. The
// returned count is zero when the user already had an account.
func (s *AccountStore) Create(ctx context.Context, tx Execer, input AccountInput) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO point_accounts (id, user_id, initial_points, current_points, daily_limit, monthly_limit, low_balance_threshold, notifications_enabled)
		VALUES ($1, $2, $3, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, input.ID, input.UserID, input.InitialPoints, input.DailyLimit, input.MonthlyLimit, input.LowBalanceThreshold, input.NotificationsEnabled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM point_accounts
		WHERE id = $1
	`, accountID)
	if err != nil {
		return Account{}, notFound(err)
	}
	return row, nil
}

func (s *AccountStore) GetByUserID(ctx context.Context, userID string) (Account, error) {
	var row Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM point_accounts
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return Account{}, notFound(err)
	}
	return row, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (Account, error) {
	var row Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM point_accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return Account{}, notFound(err)
	}
	return row, nil
}

func (s *AccountStore) ApplyBalance(ctx context.Context, tx Execer, update BalanceUpdate) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE point_accounts
		SET current_points = $1,
		    total_spent = total_spent + $2,
		    total_purchased = total_purchased + $3,
		    updated_at = NOW()
		WHERE id = $4
	`, update.Balance, update.SpentDelta, update.PurchasedDelta, update.AccountID)
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

func (s *AccountStore) UpdateSettings(ctx context.Context, tx Execer, accountID string, settings AccountSettings) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE point_accounts
		SET daily_limit = $1,
		    monthly_limit = $2,
		    low_balance_threshold = $3,
		    notifications_enabled = $4,
		    updated_at = NOW()
		WHERE id = $5
	`, settings.DailyLimit, settings.MonthlyLimit, settings.LowBalanceThreshold, settings.NotificationsEnabled, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
