package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBalanceStore mimics the row-lock semantics of the postgres store: one
// mutex per user serializes concurrent operations on the same balance.
type memBalanceStore struct {
	mu       sync.Mutex
	locks    map[int64]*sync.Mutex
	balances map[int64]decimal.Decimal
}

func newMemBalanceStore() *memBalanceStore {
	return &memBalanceStore{
		locks:    make(map[int64]*sync.Mutex),
		balances: make(map[int64]decimal.Decimal),
	}
}

func (s *memBalanceStore) set(userID int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *memBalanceStore) get(userID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID]
}

func (s *memBalanceStore) WithLockedBalance(ctx context.Context, userID int64, fn BalanceFunc) error {
	s.mu.Lock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	balance, ok := s.balances[userID]
	s.mu.Unlock()
	if !ok {
		return ErrUserNotFound
	}

	newBalance, err := fn(ctx, nil, balance)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.balances[userID] = newBalance
	s.mu.Unlock()
	return nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []model.Transaction
}

func (j *memJournal) Record(ctx context.Context, tx pgx.Tx, entry *model.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry.CreatedAt = time.Now()
	j.entries = append(j.entries, *entry)
	return nil
}

func (j *memJournal) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []model.Transaction
	for i := len(j.entries) - 1; i >= 0; i-- {
		if j.entries[i].UserID == userID {
			out = append(out, j.entries[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memAudit struct {
	records chan *model.AdminLog
}

func newMemAudit() *memAudit {
	return &memAudit{records: make(chan *model.AdminLog, 8)}
}

func (a *memAudit) Record(ctx context.Context, entry *model.AdminLog) error {
	a.records <- entry
	return nil
}

func newTestService() (*Service, *memBalanceStore, *memJournal, *memAudit) {
	store := newMemBalanceStore()
	journal := &memJournal{}
	audit := newMemAudit()
	log := zerolog.Nop()
	return NewService(store, journal, audit, &log), store, journal, audit
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDepositCreditsBalance(t *testing.T) {
	svc, store, journal, _ := newTestService()
	store.set(1, decimal.Zero)

	entry, err := svc.Deposit(context.Background(), 1, dec("50.00"), "top-up", Link{})
	require.NoError(t, err)

	assert.True(t, store.get(1).Equal(dec("50.00")))
	assert.Equal(t, model.TransactionDeposit, entry.Type)
	assert.Equal(t, model.TransactionCompleted, entry.Status)
	assert.True(t, entry.BalanceBefore.Equal(decimal.Zero))
	assert.True(t, entry.BalanceAfter.Equal(dec("50.00")))
	require.NotNil(t, entry.CompletedAt)
	assert.Len(t, journal.entries, 1)
}

func TestDeductUpdatesBalance(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.set(1, dec("50.00"))

	entry, err := svc.Deduct(context.Background(), 1, dec("15.00"), "generation", Link{})
	require.NoError(t, err)

	assert.True(t, store.get(1).Equal(dec("35.00")))
	assert.Equal(t, model.TransactionWithdrawal, entry.Type)
	assert.True(t, entry.BalanceBefore.Equal(dec("50.00")))
	assert.True(t, entry.BalanceAfter.Equal(dec("35.00")))
}

func TestDeductInsufficientBalance(t *testing.T) {
	svc, store, journal, _ := newTestService()
	store.set(1, dec("10.00"))

	_, err := svc.Deduct(context.Background(), 1, dec("15.00"), "generation", Link{})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.True(t, store.get(1).Equal(dec("10.00")))
	assert.Empty(t, journal.entries)
}

func TestApplyRejectsNonPositiveAmount(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.set(1, dec("10.00"))

	_, err := svc.Deposit(context.Background(), 1, decimal.Zero, "", Link{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Deposit(context.Background(), 1, dec("-5.00"), "", Link{})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyUnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Deposit(context.Background(), 42, dec("5.00"), "", Link{})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestWithinFailureRollsBackBalance(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.set(1, dec("10.00"))

	boom := errors.New("collaborator write failed")
	_, err := svc.Apply(context.Background(), Operation{
		UserID: 1,
		Type:   model.TransactionDeposit,
		Amount: dec("5.00"),
		Within: func(ctx context.Context, tx pgx.Tx) error {
			return boom
		},
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, store.get(1).Equal(dec("10.00")))
}

func TestConcurrentDeductsOneFails(t *testing.T) {
	svc, store, journal, _ := newTestService()
	store.set(1, dec("10.00"))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deduct(context.Background(), 1, dec("6.00"), "race", Link{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
	assert.True(t, store.get(1).Equal(dec("4.00")))
	assert.Len(t, journal.entries, 1)
}

func TestAdjustPositiveIsBonus(t *testing.T) {
	svc, store, _, audit := newTestService()
	store.set(1, dec("10.00"))

	entry, err := svc.Adjust(context.Background(), 1, dec("5.00"), "goodwill", 99, Link{})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionBonus, entry.Type)
	assert.True(t, store.get(1).Equal(dec("15.00")))

	select {
	case record := <-audit.records:
		assert.Equal(t, int64(99), record.AdminID)
		assert.Equal(t, int64(1), record.UserID)
		assert.True(t, record.Amount.Equal(dec("5.00")))
	case <-time.After(time.Second):
		t.Fatal("audit record never written")
	}
}

func TestAdjustNegativeIsWithdrawal(t *testing.T) {
	svc, store, _, audit := newTestService()
	store.set(1, dec("10.00"))

	entry, err := svc.Adjust(context.Background(), 1, dec("-3.00"), "correction", 99, Link{})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionWithdrawal, entry.Type)
	assert.True(t, entry.Amount.Equal(dec("3.00")))
	assert.True(t, store.get(1).Equal(dec("7.00")))

	select {
	case record := <-audit.records:
		assert.True(t, record.Amount.Equal(dec("-3.00")))
	case <-time.After(time.Second):
		t.Fatal("audit record never written")
	}
}

func TestAdjustRejectsZeroAndOverdraw(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.set(1, dec("10.00"))

	_, err := svc.Adjust(context.Background(), 1, decimal.Zero, "noop", 99, Link{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.Adjust(context.Background(), 1, dec("-20.00"), "too much", 99, Link{})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, store.get(1).Equal(dec("10.00")))
}

func TestRefundAfterDeductNetsZero(t *testing.T) {
	svc, store, journal, _ := newTestService()
	store.set(1, dec("20.00"))

	genID := uuid.New()
	_, err := svc.Deduct(context.Background(), 1, dec("5.00"), "generation", LinkGeneration(genID))
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), 1, dec("5.00"), "automatic refund", LinkGeneration(genID))
	require.NoError(t, err)

	assert.True(t, store.get(1).Equal(dec("20.00")))
	require.Len(t, journal.entries, 2)
	for _, e := range journal.entries {
		require.NotNil(t, e.GenerationID)
		assert.Equal(t, genID, *e.GenerationID)
	}
	assert.Equal(t, model.TransactionWithdrawal, journal.entries[0].Type)
	assert.Equal(t, model.TransactionRefund, journal.entries[1].Type)
}

func TestTransactionsLimitDefaults(t *testing.T) {
	svc, store, _, _ := newTestService()
	store.set(1, decimal.Zero)

	for i := 0; i < 25; i++ {
		_, err := svc.Deposit(context.Background(), 1, dec("1.00"), "drip", Link{})
		require.NoError(t, err)
	}

	entries, err := svc.Transactions(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 20)

	entries, err = svc.Transactions(context.Background(), 1, 1000, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 25)
}
