// Package ledger applies debits and credits to per-user point balances,
// enforcing spend limits, idempotent replay and daily usage rollups.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"pointledger/internal/cache"
	"pointledger/internal/db"
	"pointledger/internal/lock"
	"pointledger/internal/metrics"
	"pointledger/internal/points"
	"pointledger/internal/store"
	"pointledger/internal/websocket"
)

const (
	AuditEntityAccount     = "account"
	AuditEntityTransaction = "transaction"
)

const (
	defaultMaxRetries = 3
	defaultListLimit  = 50
	maxListLimit      = 500
)

type AccountStore interface {
	Create(ctx context.Context, tx store.Execer, input store.AccountInput) (int64, error)
	GetByID(ctx context.Context, accountID string) (store.Account, error)
	GetByUserID(ctx context.Context, userID string) (store.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (store.Account, error)
	ApplyBalance(ctx context.Context, tx store.Execer, update store.BalanceUpdate) error
	UpdateSettings(ctx context.Context, tx store.Execer, accountID string, settings store.AccountSettings) (int64, error)
}

type TransactionStore interface {
	Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error
	GetByID(ctx context.Context, transactionID string) (store.Transaction, error)
	GetForUpdate(ctx context.Context, tx store.Getter, transactionID string) (store.Transaction, error)
	GetByReference(ctx context.Context, tx store.Getter, accountID, referenceID string) (store.Transaction, error)
	MarkReversed(ctx context.Context, tx store.Execer, transactionID string) (int64, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]store.Transaction, error)
	NetChange(ctx context.Context, accountID string) (points.Amount, error)
}

type AuditStore interface {
	Log(ctx context.Context, tx store.Execer, actor, action, entityType, entityID, data string) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error)
}

type BalanceHub interface {
	BroadcastBalance(accountID string, update websocket.BalanceUpdate)
}

type LowBalanceNotifier interface {
	NotifyLowBalance(ctx context.Context, event websocket.LowBalanceEvent) error
}

type Service struct {
	txRunner     db.TxRunner
	accounts     AccountStore
	transactions TransactionStore
	audit        AuditStore
	usage        *UsageAggregator
	enforcer     *LimitEnforcer

	locker     lock.Locker
	cache      cache.BalanceCache
	hub        BalanceHub
	notifier   LowBalanceNotifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
	loc        *time.Location
	maxRetries int
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithLocker(locker lock.Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithBalanceCache(c cache.BalanceCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithHub(hub BalanceHub) Option {
	return func(s *Service) { s.hub = hub }
}

func WithNotifier(notifier LowBalanceNotifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone that decides usage period boundaries.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func NewService(txRunner db.TxRunner, accounts AccountStore, transactions TransactionStore, usage UsageStore, audit AuditStore, opts ...Option) *Service {
	s := &Service{
		txRunner:     txRunner,
		accounts:     accounts,
		transactions: transactions,
		audit:        audit,
		locker:       lock.NewKeyMutex(),
		cache:        cache.Nop{},
		logger:       zap.NewNop(),
		now:          time.Now,
		loc:          time.UTC,
		maxRetries:   defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.usage = NewUsageAggregator(usage, s.loc)
	s.enforcer = NewLimitEnforcer(s.usage)
	return s
}

type posting struct {
	accountID   string
	txType      TransactionType
	direction   Direction
	category    string
	amount      points.Amount
	referenceID string
	metadata    []byte
	strict      bool
}

func (s *Service) Debit(ctx context.Context, req DebitRequest) (TransactionResult, error) {
	const op = "debit"
	if req.Amount <= 0 {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidAmount)
	}
	txType := TypeDebit
	if req.Adjustment {
		txType = TypeAdjustment
	}
	category := normalizeCategory(req.OperationCategory)
	if category == "" && txType == TypeDebit {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidCategory)
	}
	if !validMetadata(req.Metadata) {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidMetadata)
	}
	return s.post(ctx, op, posting{
		accountID:   req.AccountID,
		txType:      txType,
		direction:   DirectionDebit,
		category:    category,
		amount:      req.Amount,
		referenceID: strings.TrimSpace(req.ReferenceID),
		metadata:    req.Metadata,
		strict:      req.StrictReference,
	})
}

func (s *Service) Credit(ctx context.Context, req CreditRequest) (TransactionResult, error) {
	const op = "credit"
	if req.Amount <= 0 {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidAmount)
	}
	if !req.Type.Valid() || req.Type == TypeDebit {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidType)
	}
	if !validMetadata(req.Metadata) {
		return TransactionResult{}, s.fail(op, req.AccountID, ErrInvalidMetadata)
	}
	return s.post(ctx, op, posting{
		accountID:   req.AccountID,
		txType:      req.Type,
		direction:   DirectionCredit,
		amount:      req.Amount,
		referenceID: strings.TrimSpace(req.ReferenceID),
		metadata:    req.Metadata,
		strict:      req.StrictReference,
	})
}

func (s *Service) post(ctx context.Context, op string, p posting) (TransactionResult, error) {
	if err := s.ensureAccount(ctx, p.accountID); err != nil {
		return TransactionResult{}, s.fail(op, p.accountID, err)
	}
	release, err := s.locker.Lock(ctx, lockKey(p.accountID))
	if err != nil {
		return TransactionResult{}, s.fail(op, p.accountID, classify(err))
	}
	defer release()

	started := time.Now()
	var result TransactionResult
	var before store.Account
	err = s.withRetry(ctx, op, func() error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			account, err := s.accounts.GetForUpdate(ctx, tx, p.accountID)
			if err != nil {
				return notFoundAs(err, ErrAccountNotFound)
			}
			before = account
			if p.referenceID != "" {
				existing, err := s.transactions.GetByReference(ctx, tx, p.accountID, p.referenceID)
				switch {
				case err == nil:
					if p.strict {
						return ErrDuplicateReference
					}
					result = resultFromRow(existing, true)
					return nil
				case !errors.Is(err, store.ErrNotFound):
					return err
				}
			}
			result, err = s.commit(ctx, tx, account, p)
			return err
		})
	})
	if err != nil {
		return TransactionResult{}, s.fail(op, p.accountID, classify(err))
	}
	if result.Replayed {
		s.metrics.Replayed()
		s.logger.Debug("replayed transaction",
			zap.String("account_id", p.accountID),
			zap.String("reference_id", p.referenceID),
			zap.String("transaction_id", result.TransactionID),
		)
		return result, nil
	}
	s.metrics.ObserveCommit(op, started)
	s.metrics.Committed(string(p.txType))
	s.logger.Debug("transaction committed",
		zap.String("account_id", p.accountID),
		zap.String("transaction_id", result.TransactionID),
		zap.String("type", string(p.txType)),
		zap.Stringer("amount", p.amount),
		zap.Stringer("balance_after", result.BalanceAfter),
	)
	s.afterCommit(ctx, before, result.TransactionID, p.txType, p.direction, result.BalanceAfter, result.ProcessedAt)
	return result, nil
}

// commit runs with the account row locked. Limits and balance are evaluated
// against the locked row, so the values are those at commit time.
func (s *Service) commit(ctx context.Context, tx store.Tx, account store.Account, p posting) (TransactionResult, error) {
	now := s.now()
	if p.txType == TypeDebit {
		if err := s.enforcer.Authorize(ctx, tx, account, p.amount, now); err != nil {
			return TransactionResult{}, err
		}
	}
	next := account.CurrentPoints + p.direction.signed(p.amount)
	if p.direction == DirectionCredit && next < account.CurrentPoints {
		return TransactionResult{}, ErrInvalidAmount
	}
	if p.direction == DirectionDebit && next < 0 && p.txType != TypeAdjustment {
		return TransactionResult{}, ErrInsufficientBalance
	}

	input := store.TransactionInput{
		ID:                uuid.NewString(),
		AccountID:         account.ID,
		Type:              string(p.txType),
		Direction:         string(p.direction),
		OperationCategory: p.category,
		Amount:            p.amount,
		BalanceAfter:      next,
		Status:            string(StatusCompleted),
		Metadata:          p.metadata,
		ProcessedAt:       now,
	}
	if p.referenceID != "" {
		ref := p.referenceID
		input.ReferenceID = &ref
	}
	if err := s.transactions.Create(ctx, tx, input); err != nil {
		return TransactionResult{}, err
	}

	update := store.BalanceUpdate{AccountID: account.ID, Balance: next}
	switch p.txType {
	case TypeDebit:
		update.SpentDelta = p.amount
	case TypePurchase:
		update.PurchasedDelta = p.amount
	}
	if err := s.accounts.ApplyBalance(ctx, tx, update); err != nil {
		return TransactionResult{}, err
	}
	if p.txType == TypeDebit {
		if err := s.usage.RecordUsage(ctx, tx, account.ID, p.category, p.amount, now); err != nil {
			return TransactionResult{}, err
		}
	}
	return TransactionResult{
		TransactionID: input.ID,
		AccountID:     account.ID,
		Type:          input.Type,
		Amount:        p.amount,
		BalanceAfter:  next,
		Status:        StatusCompleted,
		ReferenceID:   input.ReferenceID,
		ProcessedAt:   now,
	}, nil
}

// compensationFor returns the type and direction of the transaction that
// undoes one of txType in direction.
func compensationFor(txType TransactionType, direction Direction) (TransactionType, Direction) {
	switch txType {
	case TypeDebit:
		return TypeRefund, DirectionCredit
	case TypePurchase, TypeRefund:
		return TypeAdjustment, DirectionDebit
	default:
		return TypeAdjustment, direction.opposite()
	}
}

// Reverse commits a compensating transaction and marks the original as
// reversed in one atomic unit. A reversed debit is also removed from usage.
func (s *Service) Reverse(ctx context.Context, req ReverseRequest) (ReversalResult, error) {
	const op = "reverse"
	if strings.TrimSpace(req.TransactionID) == "" {
		return ReversalResult{}, s.fail(op, "", ErrTransactionNotFound)
	}
	original, err := s.transactions.GetByID(ctx, req.TransactionID)
	if err != nil {
		return ReversalResult{}, s.fail(op, "", classify(notFoundAs(err, ErrTransactionNotFound)))
	}
	accountID := original.AccountID
	release, err := s.locker.Lock(ctx, lockKey(accountID))
	if err != nil {
		return ReversalResult{}, s.fail(op, accountID, classify(err))
	}
	defer release()

	started := time.Now()
	var result ReversalResult
	var before store.Account
	var direction Direction
	var processedAt time.Time
	err = s.withRetry(ctx, op, func() error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			account, err := s.accounts.GetForUpdate(ctx, tx, accountID)
			if err != nil {
				return notFoundAs(err, ErrAccountNotFound)
			}
			before = account
			orig, err := s.transactions.GetForUpdate(ctx, tx, req.TransactionID)
			if err != nil {
				return notFoundAs(err, ErrTransactionNotFound)
			}
			if Status(orig.Status) != StatusCompleted || orig.ReversalOf != nil {
				return ErrReversalNotAllowed
			}
			compType, compDir := compensationFor(TransactionType(orig.Type), Direction(orig.Direction))
			next := account.CurrentPoints + compDir.signed(orig.Amount)

			rows, err := s.transactions.MarkReversed(ctx, tx, orig.ID)
			if err != nil {
				return err
			}
			if rows == 0 {
				return ErrReversalNotAllowed
			}
			now := s.now()
			origID := orig.ID
			input := store.TransactionInput{
				ID:                uuid.NewString(),
				AccountID:         accountID,
				Type:              string(compType),
				Direction:         string(compDir),
				OperationCategory: orig.OperationCategory,
				Amount:            orig.Amount,
				BalanceAfter:      next,
				ReversalOf:        &origID,
				Status:            string(StatusCompleted),
				ProcessedAt:       now,
			}
			if err := s.transactions.Create(ctx, tx, input); err != nil {
				return err
			}
			if err := s.accounts.ApplyBalance(ctx, tx, store.BalanceUpdate{AccountID: accountID, Balance: next}); err != nil {
				return err
			}
			if TransactionType(orig.Type) == TypeDebit {
				if err := s.usage.ReverseUsage(ctx, tx, accountID, orig.OperationCategory, orig.Amount, orig.ProcessedAt); err != nil {
					return err
				}
			}
			data, _ := json.Marshal(map[string]string{
				"compensating_transaction_id": input.ID,
				"original_type":               orig.Type,
				"amount":                      orig.Amount.String(),
				"reason":                      req.Reason,
			})
			if err := s.audit.Log(ctx, tx, req.Actor, "transaction.reverse", AuditEntityTransaction, orig.ID, string(data)); err != nil {
				return err
			}
			result = ReversalResult{
				NewTransactionID:      input.ID,
				ReversedTransactionID: orig.ID,
				Type:                  input.Type,
				BalanceAfter:          next,
			}
			direction = compDir
			processedAt = now
			return nil
		})
	})
	if err != nil {
		return ReversalResult{}, s.fail(op, accountID, classify(err))
	}
	s.metrics.ObserveCommit(op, started)
	s.metrics.Committed(result.Type)
	s.logger.Info("transaction reversed",
		zap.String("account_id", accountID),
		zap.String("transaction_id", result.ReversedTransactionID),
		zap.String("compensating_transaction_id", result.NewTransactionID),
		zap.String("actor", req.Actor),
	)
	s.afterCommit(ctx, before, result.NewTransactionID, TransactionType(result.Type), direction, result.BalanceAfter, processedAt)
	return result, nil
}

// afterCommit runs the best-effort side effects of a committed balance
// change. Failures are logged and never undo the commit.
func (s *Service) afterCommit(ctx context.Context, before store.Account, transactionID string, txType TransactionType, direction Direction, balance points.Amount, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := s.cache.Invalidate(ctx, before.ID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.String("account_id", before.ID), zap.Error(err))
	}
	if s.hub != nil {
		s.hub.BroadcastBalance(before.ID, websocket.BalanceUpdate{
			AccountID:     before.ID,
			TransactionID: transactionID,
			Type:          string(txType),
			Balance:       balance.String(),
			At:            at,
		})
	}
	if direction != DirectionDebit || !before.NotificationsEnabled {
		return
	}
	if !crossesThreshold(before.CurrentPoints, balance, before.LowBalanceThreshold) {
		return
	}
	s.metrics.LowBalance()
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifyLowBalance(ctx, websocket.LowBalanceEvent{
		AccountID: before.ID,
		UserID:    before.UserID,
		Balance:   balance.String(),
		Threshold: before.LowBalanceThreshold.String(),
		At:        at,
	})
	if err != nil {
		s.metrics.NotifyFailed()
		s.logger.Warn("low balance notification failed", zap.String("account_id", before.ID), zap.Error(err))
	}
}

// GetBalance serves from the balance cache and falls back to the account row.
// A miss is filled under the account lock, so a commit cannot invalidate the
// entry between the row read and the cache write.
func (s *Service) GetBalance(ctx context.Context, accountID string) (points.Amount, error) {
	if balance, ok := s.cache.Get(ctx, accountID); ok {
		return balance, nil
	}
	release, err := s.locker.Lock(ctx, lockKey(accountID))
	if err != nil {
		return 0, classify(err)
	}
	defer release()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, classify(notFoundAs(err, ErrAccountNotFound))
	}
	s.cache.Set(ctx, accountID, account.CurrentPoints)
	return account.CurrentPoints, nil
}

func (s *Service) GetUsage(ctx context.Context, accountID, periodType string, from, to time.Time) (UsageTotals, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return UsageTotals{}, err
	}
	totals, err := s.usage.GetPeriodTotal(ctx, accountID, periodType, from, to)
	if err != nil {
		return UsageTotals{}, classify(err)
	}
	return totals, nil
}

// Authorize runs the limit check for a prospective debit without committing
// anything.
func (s *Service) Authorize(ctx context.Context, accountID string, amount points.Amount, asOf time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return classify(notFoundAs(err, ErrAccountNotFound))
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.enforcer.Authorize(ctx, tx, account, amount, asOf)
	})
	return classify(err)
}

// OpenAccount creates the user's account, or returns the existing one. The
// bool reports whether a new account was created.
func (s *Service) OpenAccount(ctx context.Context, req OpenAccountRequest) (Account, bool, error) {
	const op = "open_account"
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Account{}, false, s.fail(op, "", ErrInvalidUser)
	}
	if req.InitialPoints < 0 || !validSettings(req.DailyLimit, req.MonthlyLimit, req.LowBalanceThreshold) {
		return Account{}, false, s.fail(op, "", ErrInvalidAmount)
	}
	notifications := true
	if req.NotificationsEnabled != nil {
		notifications = *req.NotificationsEnabled
	}
	input := store.AccountInput{
		ID:                   uuid.NewString(),
		UserID:               userID,
		InitialPoints:        req.InitialPoints,
		DailyLimit:           req.DailyLimit,
		MonthlyLimit:         req.MonthlyLimit,
		LowBalanceThreshold:  req.LowBalanceThreshold,
		NotificationsEnabled: notifications,
	}
	var created bool
	err := s.withRetry(ctx, op, func() error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			rows, err := s.accounts.Create(ctx, tx, input)
			if err != nil {
				return err
			}
			created = rows > 0
			return nil
		})
	})
	if err != nil {
		return Account{}, false, s.fail(op, "", classify(err))
	}
	row, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return Account{}, false, s.fail(op, "", classify(notFoundAs(err, ErrAccountNotFound)))
	}
	if created {
		s.logger.Info("account opened", zap.String("account_id", row.ID), zap.String("user_id", userID))
	}
	return accountFromRow(row), created, nil
}

func (s *Service) GetAccount(ctx context.Context, accountID string) (Account, error) {
	row, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Account{}, classify(notFoundAs(err, ErrAccountNotFound))
	}
	return accountFromRow(row), nil
}

func (s *Service) UpdateSettings(ctx context.Context, req SettingsRequest) (Account, error) {
	const op = "update_settings"
	if !validSettings(req.DailyLimit, req.MonthlyLimit, req.LowBalanceThreshold) {
		return Account{}, s.fail(op, req.AccountID, ErrInvalidAmount)
	}
	if err := s.ensureAccount(ctx, req.AccountID); err != nil {
		return Account{}, s.fail(op, req.AccountID, err)
	}
	release, err := s.locker.Lock(ctx, lockKey(req.AccountID))
	if err != nil {
		return Account{}, s.fail(op, req.AccountID, classify(err))
	}
	defer release()

	settings := store.AccountSettings{
		DailyLimit:           req.DailyLimit,
		MonthlyLimit:         req.MonthlyLimit,
		LowBalanceThreshold:  req.LowBalanceThreshold,
		NotificationsEnabled: req.NotificationsEnabled,
	}
	err = s.withRetry(ctx, op, func() error {
		return s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := s.accounts.GetForUpdate(ctx, tx, req.AccountID); err != nil {
				return notFoundAs(err, ErrAccountNotFound)
			}
			rows, err := s.accounts.UpdateSettings(ctx, tx, req.AccountID, settings)
			if err != nil {
				return err
			}
			if rows == 0 {
				return ErrAccountNotFound
			}
			data, _ := json.Marshal(map[string]any{
				"daily_limit":           req.DailyLimit,
				"monthly_limit":         req.MonthlyLimit,
				"low_balance_threshold": req.LowBalanceThreshold,
				"notifications_enabled": req.NotificationsEnabled,
			})
			return s.audit.Log(ctx, tx, req.Actor, "account.settings", AuditEntityAccount, req.AccountID, string(data))
		})
	})
	if err != nil {
		return Account{}, s.fail(op, req.AccountID, classify(err))
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), req.AccountID); err != nil {
		s.logger.Warn("balance cache invalidation failed", zap.String("account_id", req.AccountID), zap.Error(err))
	}
	return s.GetAccount(ctx, req.AccountID)
}

// ListTransactions pages through the account's transactions in commit order.
func (s *Service) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.transactions.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, transactionFromRow(row))
	}
	return out, nil
}

// ListAudit returns the audit entries recorded against an account or a
// transaction, newest first.
func (s *Service) ListAudit(ctx context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error) {
	switch entityType {
	case AuditEntityAccount, AuditEntityTransaction:
	default:
		return nil, ErrInvalidType
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	logs, err := s.audit.ListByEntity(ctx, entityType, entityID, limit, offset)
	if err != nil {
		return nil, classify(err)
	}
	return logs, nil
}

// VerifyChain replays the full transaction log from the initial balance and
// checks every balance_after snapshot and the stored current balance.
func (s *Service) VerifyChain(ctx context.Context, accountID string) (ChainReport, error) {
	if err := s.ensureAccount(ctx, accountID); err != nil {
		return ChainReport{}, err
	}
	release, err := s.locker.Lock(ctx, lockKey(accountID))
	if err != nil {
		return ChainReport{}, classify(err)
	}
	defer release()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return ChainReport{}, classify(notFoundAs(err, ErrAccountNotFound))
	}
	rows, err := s.transactions.ListByAccount(ctx, accountID, 0, 0)
	if err != nil {
		return ChainReport{}, classify(err)
	}
	net, err := s.transactions.NetChange(ctx, accountID)
	if err != nil {
		return ChainReport{}, classify(err)
	}

	report := ChainReport{
		AccountID:     accountID,
		InitialPoints: account.InitialPoints,
		CurrentPoints: account.CurrentPoints,
		Transactions:  len(rows),
	}
	balance := account.InitialPoints
	for _, row := range rows {
		balance += Direction(row.Direction).signed(row.Amount)
		if row.BalanceAfter != balance && report.FirstMismatchID == "" {
			report.FirstMismatchID = row.ID
		}
	}
	report.ReplayedBalance = balance
	report.Consistent = report.FirstMismatchID == "" &&
		balance == account.CurrentPoints &&
		account.InitialPoints+net == account.CurrentPoints
	if !report.Consistent {
		s.logger.Error("transaction chain inconsistent",
			zap.String("account_id", accountID),
			zap.Stringer("replayed_balance", balance),
			zap.Stringer("current_points", account.CurrentPoints),
			zap.String("first_mismatch_id", report.FirstMismatchID),
		)
	}
	return report, nil
}

func (s *Service) ensureAccount(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return ErrAccountNotFound
	}
	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		return classify(notFoundAs(err, ErrAccountNotFound))
	}
	return nil
}

// withRetry repeats fn after serialization conflicts and after losing a race
// to insert the same reference id. The retry re-reads the reference and
// replays it.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, db.ErrSerializationConflict) && !errors.Is(err, store.ErrDuplicateReference) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.metrics.ConflictRetry()
		s.logger.Debug("retrying after conflict", zap.String("operation", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
}

func (s *Service) fail(op, accountID string, err error) error {
	s.metrics.Rejected(op, reasonOf(err))
	fields := []zap.Field{zap.String("operation", op), zap.String("account_id", accountID), zap.Error(err)}
	if errors.Is(err, ErrUnavailable) {
		s.logger.Error("ledger operation failed", fields...)
	} else {
		s.logger.Info("ledger operation rejected", fields...)
	}
	return err
}

func lockKey(accountID string) string {
	return "account:" + accountID
}

// validMetadata accepts an absent payload or well-formed JSON.
func validMetadata(metadata []byte) bool {
	return len(metadata) == 0 || json.Valid(metadata)
}

func validSettings(daily, monthly *points.Amount, threshold points.Amount) bool {
	if daily != nil && *daily < 0 {
		return false
	}
	if monthly != nil && *monthly < 0 {
		return false
	}
	return threshold >= 0
}

func notFoundAs(err, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return err
}

var domainErrors = []error{
	ErrInvalidAmount, ErrInvalidCategory, ErrInvalidType, ErrInvalidPeriod, ErrInvalidUser,
	ErrAccountNotFound, ErrTransactionNotFound, ErrInsufficientBalance,
	ErrDailyLimitExceeded, ErrMonthlyLimitExceeded, ErrDuplicateReference,
	ErrReversalNotAllowed, ErrConcurrencyConflict, ErrUnavailable,
	context.Canceled, context.DeadlineExceeded,
}

// classify passes domain errors through and maps everything else coming out
// of storage onto ErrConcurrencyConflict or ErrUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	if errors.Is(err, db.ErrSerializationConflict) {
		return fmt.Errorf("%w: %v", ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
