package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"pointledger/internal/db"
	"pointledger/internal/points"
	"pointledger/internal/store"
	"pointledger/internal/websocket"
)

type auditRecord struct {
	actor, action, entityType, entityID, data string
}

type memState struct {
	accounts map[string]store.Account
	txs      []store.Transaction
	usage    map[string]store.UsagePeriod
	audit    []auditRecord
}

func (s memState) clone() memState {
	out := memState{
		accounts: make(map[string]store.Account, len(s.accounts)),
		txs:      append([]store.Transaction(nil), s.txs...),
		usage:    make(map[string]store.UsagePeriod, len(s.usage)),
		audit:    append([]auditRecord(nil), s.audit...),
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.usage {
		v.HourlyOperations = append(pq.Int64Array(nil), v.HourlyOperations...)
		out.usage[k] = v
	}
	return out
}

// memLedger is an in-memory database. WithTx runs one transaction at a time
// and restores the previous state when the callback fails.
type memLedger struct {
	mu        sync.Mutex
	state     memState
	seq       int64
	conflicts int
	failOn    map[string]error
	txCalls   int
}

func newMemLedger() *memLedger {
	return &memLedger{
		state: memState{
			accounts: map[string]store.Account{},
			usage:    map[string]store.UsagePeriod{},
		},
		failOn: map[string]error{},
	}
}

func (m *memLedger) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCalls++
	if m.conflicts > 0 {
		m.conflicts--
		return db.ErrSerializationConflict
	}
	snapshot := m.state.clone()
	if err := fn(nil); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memLedger) fail(name string) error {
	return m.failOn[name]
}

func (m *memLedger) seedAccount(account store.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account.CurrentPoints = account.InitialPoints
	m.state.accounts[account.ID] = account
}

func (m *memLedger) account(id string) store.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.accounts[id]
}

func (m *memLedger) transactions(accountID string) []store.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Transaction
	for _, tx := range m.state.txs {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}

func (m *memLedger) auditLog() []auditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auditRecord(nil), m.state.audit...)
}

func (m *memLedger) stores() (memAccounts, memTransactions, memUsage, memAudit) {
	return memAccounts{m}, memTransactions{m}, memUsage{m}, memAudit{m}
}

type memAccounts struct{ m *memLedger }

func (a memAccounts) Create(_ context.Context, _ store.Execer, input store.AccountInput) (int64, error) {
	if err := a.m.fail("accounts.create"); err != nil {
		return 0, err
	}
	for _, existing := range a.m.state.accounts {
		if existing.UserID == input.UserID {
			return 0, nil
		}
	}
	a.m.state.accounts[input.ID] = store.Account{
		ID:                   input.ID,
		UserID:               input.UserID,
		InitialPoints:        input.InitialPoints,
		CurrentPoints:        input.InitialPoints,
		DailyLimit:           input.DailyLimit,
		MonthlyLimit:         input.MonthlyLimit,
		LowBalanceThreshold:  input.LowBalanceThreshold,
		NotificationsEnabled: input.NotificationsEnabled,
	}
	return 1, nil
}

func (a memAccounts) GetByID(_ context.Context, accountID string) (store.Account, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	row, ok := a.m.state.accounts[accountID]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return row, nil
}

func (a memAccounts) GetByUserID(_ context.Context, userID string) (store.Account, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	for _, row := range a.m.state.accounts {
		if row.UserID == userID {
			return row, nil
		}
	}
	return store.Account{}, store.ErrNotFound
}

func (a memAccounts) GetForUpdate(_ context.Context, _ store.Getter, accountID string) (store.Account, error) {
	row, ok := a.m.state.accounts[accountID]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return row, nil
}

func (a memAccounts) ApplyBalance(_ context.Context, _ store.Execer, update store.BalanceUpdate) error {
	if err := a.m.fail("accounts.apply"); err != nil {
		return err
	}
	row, ok := a.m.state.accounts[update.AccountID]
	if !ok {
		return store.ErrNotFound
	}
	row.CurrentPoints = update.Balance
	row.TotalSpent += update.SpentDelta
	row.TotalPurchased += update.PurchasedDelta
	a.m.state.accounts[update.AccountID] = row
	return nil
}

func (a memAccounts) UpdateSettings(_ context.Context, _ store.Execer, accountID string, settings store.AccountSettings) (int64, error) {
	row, ok := a.m.state.accounts[accountID]
	if !ok {
		return 0, nil
	}
	row.DailyLimit = settings.DailyLimit
	row.MonthlyLimit = settings.MonthlyLimit
	row.LowBalanceThreshold = settings.LowBalanceThreshold
	row.NotificationsEnabled = settings.NotificationsEnabled
	a.m.state.accounts[accountID] = row
	return 1, nil
}

type memTransactions struct{ m *memLedger }

func (t memTransactions) Create(_ context.Context, _ store.Execer, input store.TransactionInput) error {
	if err := t.m.fail("transactions.create"); err != nil {
		return err
	}
	if input.ReferenceID != nil {
		for _, row := range t.m.state.txs {
			if row.AccountID == input.AccountID && row.ReferenceID != nil && *row.ReferenceID == *input.ReferenceID {
				return fmt.Errorf("%w: %s", store.ErrDuplicateReference, *input.ReferenceID)
			}
		}
	}
	t.m.seq++
	t.m.state.txs = append(t.m.state.txs, store.Transaction{
		ID:                input.ID,
		Seq:               t.m.seq,
		AccountID:         input.AccountID,
		Type:              input.Type,
		Direction:         input.Direction,
		OperationCategory: input.OperationCategory,
		Amount:            input.Amount,
		BalanceAfter:      input.BalanceAfter,
		ReferenceID:       input.ReferenceID,
		ReversalOf:        input.ReversalOf,
		Status:            input.Status,
		Metadata:          input.Metadata,
		ProcessedAt:       input.ProcessedAt,
		CreatedAt:         input.ProcessedAt,
	})
	return nil
}

func (t memTransactions) find(id string) (store.Transaction, error) {
	for _, row := range t.m.state.txs {
		if row.ID == id {
			return row, nil
		}
	}
	return store.Transaction{}, store.ErrNotFound
}

func (t memTransactions) GetByID(_ context.Context, transactionID string) (store.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.find(transactionID)
}

func (t memTransactions) GetForUpdate(_ context.Context, _ store.Getter, transactionID string) (store.Transaction, error) {
	return t.find(transactionID)
}

func (t memTransactions) GetByReference(_ context.Context, _ store.Getter, accountID, referenceID string) (store.Transaction, error) {
	for _, row := range t.m.state.txs {
		if row.AccountID == accountID && row.ReferenceID != nil && *row.ReferenceID == referenceID {
			return row, nil
		}
	}
	return store.Transaction{}, store.ErrNotFound
}

func (t memTransactions) MarkReversed(_ context.Context, _ store.Execer, transactionID string) (int64, error) {
	for i, row := range t.m.state.txs {
		if row.ID == transactionID && row.Status == string(StatusCompleted) {
			t.m.state.txs[i].Status = string(StatusReversed)
			return 1, nil
		}
	}
	return 0, nil
}

func (t memTransactions) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]store.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var rows []store.Transaction
	for _, row := range t.m.state.txs {
		if row.AccountID == accountID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	if limit <= 0 {
		return rows, nil
	}
	if offset >= len(rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (t memTransactions) NetChange(_ context.Context, accountID string) (points.Amount, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var sum points.Amount
	for _, row := range t.m.state.txs {
		if row.AccountID == accountID {
			sum += Direction(row.Direction).signed(row.Amount)
		}
	}
	return sum, nil
}

type memUsage struct{ m *memLedger }

func usageKey(accountID string, date time.Time, periodType string) string {
	return accountID + "|" + date.Format(time.DateOnly) + "|" + periodType
}

func (u memUsage) Ensure(_ context.Context, _ store.Execer, key store.PeriodKey) error {
	k := usageKey(key.AccountID, key.Date, key.PeriodType)
	if _, ok := u.m.state.usage[k]; !ok {
		u.m.state.usage[k] = store.UsagePeriod{AccountID: key.AccountID, PeriodDate: key.Date, PeriodType: key.PeriodType}
	}
	return nil
}

func (u memUsage) GetForUpdate(_ context.Context, _ store.Getter, key store.PeriodKey) (store.UsagePeriod, error) {
	row, ok := u.m.state.usage[usageKey(key.AccountID, key.Date, key.PeriodType)]
	if !ok {
		return store.UsagePeriod{}, store.ErrNotFound
	}
	return row, nil
}

func (u memUsage) Save(_ context.Context, _ store.Execer, period store.UsagePeriod) error {
	if err := u.m.fail("usage.save"); err != nil {
		return err
	}
	u.m.state.usage[usageKey(period.AccountID, period.PeriodDate, period.PeriodType)] = period
	return nil
}

func (u memUsage) list(accountID, periodType string, from, to time.Time) []store.UsagePeriod {
	lo, hi := from.Format(time.DateOnly), to.Format(time.DateOnly)
	var rows []store.UsagePeriod
	for _, row := range u.m.state.usage {
		d := row.PeriodDate.Format(time.DateOnly)
		if row.AccountID == accountID && row.PeriodType == periodType && d >= lo && d <= hi {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].PeriodDate.Before(rows[j].PeriodDate) })
	return rows
}

func (u memUsage) ListRange(_ context.Context, accountID, periodType string, from, to time.Time) ([]store.UsagePeriod, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	return u.list(accountID, periodType, from, to), nil
}

func (u memUsage) ListRangeTx(_ context.Context, _ store.Selecter, accountID, periodType string, from, to time.Time) ([]store.UsagePeriod, error) {
	return u.list(accountID, periodType, from, to), nil
}

type memAudit struct{ m *memLedger }

func (a memAudit) Log(_ context.Context, _ store.Execer, actor, action, entityType, entityID, data string) error {
	a.m.state.audit = append(a.m.state.audit, auditRecord{actor, action, entityType, entityID, data})
	return nil
}

func (a memAudit) ListByEntity(_ context.Context, entityType, entityID string, limit, offset int) ([]map[string]any, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	var out []map[string]any
	for i := len(a.m.state.audit) - 1; i >= 0; i-- {
		rec := a.m.state.audit[i]
		if rec.entityType != entityType || rec.entityID != entityID {
			continue
		}
		out = append(out, map[string]any{"actor": rec.actor, "action": rec.action, "data": rec.data})
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []websocket.LowBalanceEvent
	err    error
}

func (n *recordingNotifier) NotifyLowBalance(_ context.Context, event websocket.LowBalanceEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type recordingHub struct {
	mu      sync.Mutex
	updates []websocket.BalanceUpdate
}

func (h *recordingHub) BroadcastBalance(_ string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, update)
}

type countingLocker struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return func() {}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var errBoom = errors.New("boom")

// pausingAccounts blocks the first GetByID after arm until resume is closed.
type pausingAccounts struct {
	memAccounts
	mu     sync.Mutex
	armed  bool
	paused chan struct{}
	resume chan struct{}
}

func (a *pausingAccounts) arm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = true
	a.paused = make(chan struct{})
	a.resume = make(chan struct{})
}

func (a *pausingAccounts) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	account, err := a.memAccounts.GetByID(ctx, accountID)
	a.mu.Lock()
	pause := a.armed
	a.armed = false
	a.mu.Unlock()
	if pause {
		close(a.paused)
		<-a.resume
	}
	return account, err
}

// racingTransactions loses the insert of rival's reference to a competing
// writer. The rival row becomes visible once the losing attempt rolls back.
type racingTransactions struct {
	memTransactions
	rival     store.Transaction
	raced     bool
	published bool
}

func (t *racingTransactions) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	if !t.raced && input.ReferenceID != nil && t.rival.ReferenceID != nil && *input.ReferenceID == *t.rival.ReferenceID {
		t.raced = true
		return fmt.Errorf("%w: %s", store.ErrDuplicateReference, *input.ReferenceID)
	}
	return t.memTransactions.Create(ctx, tx, input)
}

func (t *racingTransactions) GetByReference(ctx context.Context, tx store.Getter, accountID, referenceID string) (store.Transaction, error) {
	if t.raced && !t.published {
		t.published = true
		t.m.seq++
		rival := t.rival
		rival.Seq = t.m.seq
		t.m.state.txs = append(t.m.state.txs, rival)
		account := t.m.state.accounts[rival.AccountID]
		account.CurrentPoints = rival.BalanceAfter
		account.TotalSpent += rival.Amount
		t.m.state.accounts[rival.AccountID] = account
	}
	return t.memTransactions.GetByReference(ctx, tx, accountID, referenceID)
}
