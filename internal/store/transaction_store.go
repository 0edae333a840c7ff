package store

import (
	"context"
	"fmt"
	"time"

	"pointledger/internal/db"
	"pointledger/internal/points"
)

// ReferenceConstraint is the unique constraint over (account_id, reference_id).
const ReferenceConstraint = "point_transactions_account_reference_key"

type TransactionStore struct {
	db DB
}

type Transaction struct {
	ID                string        `db:"id"`
	Seq               int64         `db:"seq"`
	AccountID         string        `db:"account_id"`
	Type              string        `db:"type"`
	Direction         string        `db:"direction"`
	OperationCategory string        `db:"operation_category"`
	Amount            points.Amount `db:"amount"`
	BalanceAfter      points.Amount `db:"balance_after"`
	ReferenceID       *string       `db:"reference_id"`
	ReversalOf        *string       `db:"reversal_of"`
	Status            string        `db:"status"`
	Metadata          []byte        `db:"metadata"`
	ProcessedAt       time.Time     `db:"processed_at"`
	CreatedAt         time.Time     `db:"created_at"`
}

type TransactionInput struct {
	ID                string
	AccountID         string
	Type              string
	Direction         string
	OperationCategory string
	Amount            points.Amount
	BalanceAfter      points.Amount
	ReferenceID       *string
	ReversalOf        *string
	Status            string
	Metadata          []byte
	ProcessedAt       time.Time
}

const transactionColumns = `id, seq, account_id, type, direction, operation_category, amount, balance_after,
		       reference_id, reversal_of, status, metadata, processed_at, created_at`

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) Create(ctx context.Context, tx Execer, input TransactionInput) error {
	query := `
		INSERT INTO point_transactions (id, account_id, type, direction, operation_category, amount, balance_after, reference_id, reversal_of, status, metadata, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`
	_, err := tx.ExecContext(ctx, query,
		input.ID, input.AccountID, input.Type, input.Direction, input.OperationCategory,
		input.Amount, input.BalanceAfter, input.ReferenceID, input.ReversalOf, input.Status,
		input.Metadata, input.ProcessedAt,
	)
	if db.IsUniqueViolation(err, ReferenceConstraint) {
		return fmt.Errorf("%w: %v", ErrDuplicateReference, err)
	}
	return err
}

func (s *TransactionStore) GetByID(ctx context.Context, transactionID string) (Transaction, error) {
	var row Transaction
	err := s.db.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM point_transactions
		WHERE id = $1
	`, transactionID)
	if err != nil {
		return Transaction{}, notFound(err)
	}
	return row, nil
}

func (s *TransactionStore) GetForUpdate(ctx context.Context, tx Getter, transactionID string) (Transaction, error) {
	var row Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM point_transactions
		WHERE id = $1
		FOR UPDATE
	`, transactionID)
	if err != nil {
		return Transaction{}, notFound(err)
	}
	return row, nil
}

func (s *TransactionStore) GetByReference(ctx context.Context, tx Getter, accountID, referenceID string) (Transaction, error) {
	var row Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT `+transactionColumns+`
		FROM point_transactions
		WHERE account_id = $1 AND reference_id = $2
	`, accountID, referenceID)
	if err != nil {
		return Transaction{}, notFound(err)
	}
	return row, nil
}

// MarkReversed flips a completed transaction to reversed. Zero rows means the
// transaction was not in the completed state.
func (s *TransactionStore) MarkReversed(ctx context.Context, tx Execer, transactionID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE point_transactions
		SET status = 'reversed'
		WHERE id = $1 AND status = 'completed'
	`, transactionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListByAccount returns transactions oldest first. A non-positive limit
// returns the full history.
func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	var rows []Transaction
	query := `
		SELECT ` + transactionColumns + `
		FROM point_transactions
		WHERE account_id = $1
		ORDER BY seq ASC
	`
	args := []any{accountID}
	if limit > 0 {
		query += " LIMIT $2 OFFSET $3"
		args = append(args, limit, offset)
	}
	err := s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// NetChange sums the signed amounts of every transaction on the account.
func (s *TransactionStore) NetChange(ctx context.Context, accountID string) (points.Amount, error) {
	var sum points.Amount
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM point_transactions
		WHERE account_id = $1
	`, accountID)
	return sum, err
}
