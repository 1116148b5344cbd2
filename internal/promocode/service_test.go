package promocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glazeapp/glaze/internal/ledger"
	"github.com/glazeapp/glaze/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu         sync.Mutex
	promos     map[string]*model.Promocode
	usages     []model.PromocodeUsage
	insertFail error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{promos: make(map[string]*model.Promocode)}
}

func (r *fakeRepo) add(p *model.Promocode) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.promos[strings.ToLower(p.Code)] = p
}

func (r *fakeRepo) GetByCode(ctx context.Context, code string) (*model.Promocode, error) {
	p, ok := r.promos[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (r *fakeRepo) countUsages(promocodeID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.usages {
		if u.PromocodeID == promocodeID {
			count++
		}
	}
	return count
}

func (r *fakeRepo) countUserUsages(promocodeID uuid.UUID, userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.usages {
		if u.PromocodeID == promocodeID && u.UserID == userID {
			count++
		}
	}
	return count
}

func (r *fakeRepo) CountUsages(ctx context.Context, promocodeID uuid.UUID) (int, error) {
	return r.countUsages(promocodeID), nil
}

func (r *fakeRepo) CountUserUsages(ctx context.Context, promocodeID uuid.UUID, userID int64) (int, error) {
	return r.countUserUsages(promocodeID, userID), nil
}

func (r *fakeRepo) LockTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) error {
	return nil
}

func (r *fakeRepo) CountUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) (int, error) {
	return r.countUsages(promocodeID), nil
}

func (r *fakeRepo) CountUserUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID, userID int64) (int, error) {
	return r.countUserUsages(promocodeID, userID), nil
}

func (r *fakeRepo) InsertUsageTx(ctx context.Context, tx pgx.Tx, usage *model.PromocodeUsage) error {
	if r.insertFail != nil {
		return r.insertFail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	usage.ID = uuid.New()
	r.usages = append(r.usages, *usage)
	return nil
}

func (r *fakeRepo) Create(ctx context.Context, promo *model.Promocode) error {
	r.add(promo)
	return nil
}

func (r *fakeRepo) Deactivate(ctx context.Context, code string) error {
	p, ok := r.promos[strings.ToLower(code)]
	if !ok {
		return ErrPromocodeNotFound
	}
	p.IsActive = false
	return nil
}

// fakeLedger applies operations against an in-memory balance map with the
// same all-or-nothing semantics as the real service: a failing Within hook
// leaves the balance untouched.
type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[int64]decimal.Decimal)}
}

func (l *fakeLedger) Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if op.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ledger.ErrInvalidAmount
	}

	balance, ok := l.balances[op.UserID]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}

	var newBalance decimal.Decimal
	switch op.Type {
	case model.TransactionDeposit, model.TransactionRefund, model.TransactionBonus:
		newBalance = balance.Add(op.Amount)
	case model.TransactionWithdrawal:
		if balance.LessThan(op.Amount) {
			return nil, ledger.ErrInsufficientBalance
		}
		newBalance = balance.Sub(op.Amount)
	default:
		return nil, fmt.Errorf("unknown type %q", op.Type)
	}

	if op.Within != nil {
		if err := op.Within(ctx, nil); err != nil {
			return nil, err
		}
	}

	l.balances[op.UserID] = newBalance
	return &model.Transaction{
		UserID:        op.UserID,
		Type:          op.Type,
		Amount:        op.Amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		Status:        model.TransactionCompleted,
	}, nil
}

type fakeUsers struct {
	ledger *fakeLedger
}

func (u *fakeUsers) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	u.ledger.mu.Lock()
	defer u.ledger.mu.Unlock()
	balance, ok := u.ledger.balances[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return &model.User{ID: id, Balance: balance}, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(repo *fakeRepo) (*Service, *fakeLedger) {
	ledgerFake := newFakeLedger()
	svc := NewService(repo, ledgerFake, &fakeUsers{ledger: ledgerFake})
	return svc, ledgerFake
}

func intPtr(i int) *int { return &i }

func TestRedeemFixedAmountCreditsBalance(t *testing.T) {
	repo := newFakeRepo()
	promo := &model.Promocode{Code: "WELCOME10", Type: model.PromocodeFixedAmount, Value: dec("10.00"), MaxUsagesPerUser: 1, IsActive: true}
	repo.add(promo)

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	result, err := svc.Redeem(context.Background(), "welcome10", 1, nil)
	require.NoError(t, err)

	assert.True(t, result.AppliedValue.Equal(dec("10.00")))
	assert.True(t, result.Balance.Equal(dec("10.00")))
	assert.Equal(t, 1, repo.countUserUsages(promo.ID, 1))
}

func TestRedeemPercentageComputesValue(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&model.Promocode{Code: "EXTRA10", Type: model.PromocodePercentage, Value: dec("10"), MaxUsagesPerUser: 1, IsActive: true})

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	deposit := dec("200.00")
	result, err := svc.Redeem(context.Background(), "EXTRA10", 1, &deposit)
	require.NoError(t, err)
	assert.True(t, result.AppliedValue.Equal(dec("20.00")), "got %s", result.AppliedValue)
}

func TestRedeemPercentageRequiresDeposit(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&model.Promocode{Code: "EXTRA10", Type: model.PromocodePercentage, Value: dec("10"), MaxUsagesPerUser: 1, IsActive: true})

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	_, err := svc.Redeem(context.Background(), "EXTRA10", 1, nil)
	assert.ErrorIs(t, err, ErrDepositAmountRequired)
	assert.True(t, ledgerFake.balances[1].IsZero())
}

func TestRedeemPercentageRejectsNonPositiveDeposit(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&model.Promocode{Code: "EXTRA10", Type: model.PromocodePercentage, Value: dec("10"), MaxUsagesPerUser: 1, IsActive: true})

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	for _, amount := range []string{"0", "-5.00"} {
		deposit := dec(amount)
		_, err := svc.Redeem(context.Background(), "EXTRA10", 1, &deposit)
		assert.ErrorIs(t, err, ErrInvalidDepositAmount, "deposit %s", amount)
	}
	assert.True(t, ledgerFake.balances[1].IsZero())
}

func TestRedeemEligibilityGates(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name    string
		promo   *model.Promocode
		wantErr error
	}{
		{
			name:    "inactive",
			promo:   &model.Promocode{Code: "X", Type: model.PromocodeFixedAmount, Value: dec("1"), MaxUsagesPerUser: 1, IsActive: false},
			wantErr: ErrPromocodeInactive,
		},
		{
			name:    "not started",
			promo:   &model.Promocode{Code: "X", Type: model.PromocodeFixedAmount, Value: dec("1"), MaxUsagesPerUser: 1, IsActive: true, StartsAt: &future},
			wantErr: ErrPromocodeNotStarted,
		},
		{
			name:    "expired",
			promo:   &model.Promocode{Code: "X", Type: model.PromocodeFixedAmount, Value: dec("1"), MaxUsagesPerUser: 1, IsActive: true, ExpiresAt: &past},
			wantErr: ErrPromocodeExpired,
		},
		{
			name:    "min balance not met",
			promo:   &model.Promocode{Code: "X", Type: model.PromocodeFixedAmount, Value: dec("1"), MaxUsagesPerUser: 1, IsActive: true, MinBalance: decPtr("100.00")},
			wantErr: ErrMinBalanceNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			repo.add(tt.promo)

			svc, ledgerFake := newTestService(repo)
			svc.now = func() time.Time { return now }
			ledgerFake.balances[1] = dec("5.00")

			_, err := svc.Redeem(context.Background(), "X", 1, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, ledgerFake.balances[1].Equal(dec("5.00")))
		})
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())

	_, err := svc.Redeem(context.Background(), "NOPE", 1, nil)
	assert.ErrorIs(t, err, ErrPromocodeNotFound)
}

func TestRedeemGlobalCapReached(t *testing.T) {
	repo := newFakeRepo()
	promo := &model.Promocode{Code: "SCARCE", Type: model.PromocodeFixedAmount, Value: dec("5.00"), MaxUsages: intPtr(1), MaxUsagesPerUser: 1, IsActive: true}
	repo.add(promo)

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero
	ledgerFake.balances[2] = decimal.Zero

	_, err := svc.Redeem(context.Background(), "SCARCE", 1, nil)
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), "SCARCE", 2, nil)
	assert.ErrorIs(t, err, ErrUsageLimitReached)
	assert.True(t, ledgerFake.balances[2].IsZero())
}

func TestRedeemTwiceSameUser(t *testing.T) {
	repo := newFakeRepo()
	promo := &model.Promocode{Code: "ONCE", Type: model.PromocodeFixedAmount, Value: dec("5.00"), MaxUsagesPerUser: 1, IsActive: true}
	repo.add(promo)

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	_, err := svc.Redeem(context.Background(), "ONCE", 1, nil)
	require.NoError(t, err)

	_, err = svc.Redeem(context.Background(), "ONCE", 1, nil)
	assert.ErrorIs(t, err, ErrAlreadyUsedByUser)
	assert.True(t, ledgerFake.balances[1].Equal(dec("5.00")))
	assert.Equal(t, 1, repo.countUserUsages(promo.ID, 1))
}

// fakeTx is an opaque transaction token; the commit-aware fakes below key
// their per-transaction state on its pointer identity.
type fakeTx struct{ pgx.Tx }

// lockingRepo reproduces the store's visibility rules: usage rows inserted by
// a transaction stay invisible to other transactions until it commits, and
// the global usage count may only be read while holding the promocode row
// lock, which is held until commit or rollback.
type lockingRepo struct {
	mu        sync.Mutex
	promo     *model.Promocode
	rowLock   sync.Mutex
	holders   map[pgx.Tx]bool
	pending   map[pgx.Tx][]model.PromocodeUsage
	committed []model.PromocodeUsage
}

func newLockingRepo(promo *model.Promocode) *lockingRepo {
	if promo.ID == uuid.Nil {
		promo.ID = uuid.New()
	}
	return &lockingRepo{
		promo:   promo,
		holders: make(map[pgx.Tx]bool),
		pending: make(map[pgx.Tx][]model.PromocodeUsage),
	}
}

func (r *lockingRepo) GetByCode(ctx context.Context, code string) (*model.Promocode, error) {
	if strings.EqualFold(strings.TrimSpace(code), r.promo.Code) {
		return r.promo, nil
	}
	return nil, nil
}

func (r *lockingRepo) CountUsages(ctx context.Context, promocodeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed), nil
}

func (r *lockingRepo) CountUserUsages(ctx context.Context, promocodeID uuid.UUID, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.committed {
		if u.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *lockingRepo) LockTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) error {
	r.rowLock.Lock()
	r.mu.Lock()
	r.holders[tx] = true
	r.mu.Unlock()
	return nil
}

func (r *lockingRepo) CountUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.promo.MaxUsages != nil && !r.holders[tx] {
		return 0, errors.New("global usage count read without the promocode row lock")
	}
	return len(r.committed) + len(r.pending[tx]), nil
}

func (r *lockingRepo) CountUserUsagesTx(ctx context.Context, tx pgx.Tx, promocodeID uuid.UUID, userID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, u := range r.committed {
		if u.UserID == userID {
			count++
		}
	}
	for _, u := range r.pending[tx] {
		if u.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *lockingRepo) InsertUsageTx(ctx context.Context, tx pgx.Tx, usage *model.PromocodeUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage.ID = uuid.New()
	r.pending[tx] = append(r.pending[tx], *usage)
	return nil
}

func (r *lockingRepo) Create(ctx context.Context, promo *model.Promocode) error { return nil }

func (r *lockingRepo) Deactivate(ctx context.Context, code string) error { return nil }

func (r *lockingRepo) commit(tx pgx.Tx) {
	r.mu.Lock()
	r.committed = append(r.committed, r.pending[tx]...)
	r.finishLocked(tx)
	r.mu.Unlock()
}

func (r *lockingRepo) rollback(tx pgx.Tx) {
	r.mu.Lock()
	r.finishLocked(tx)
	r.mu.Unlock()
}

func (r *lockingRepo) finishLocked(tx pgx.Tx) {
	delete(r.pending, tx)
	if r.holders[tx] {
		delete(r.holders, tx)
		r.rowLock.Unlock()
	}
}

// rowLockLedger serializes Apply per user, like the balance row lock, and
// settles the repo's transaction state on commit or rollback.
type rowLockLedger struct {
	mu       sync.Mutex
	users    map[int64]*sync.Mutex
	balances map[int64]decimal.Decimal
	repo     *lockingRepo
}

func newRowLockLedger(repo *lockingRepo) *rowLockLedger {
	return &rowLockLedger{
		users:    make(map[int64]*sync.Mutex),
		balances: make(map[int64]decimal.Decimal),
		repo:     repo,
	}
}

func (l *rowLockLedger) Apply(ctx context.Context, op ledger.Operation) (*model.Transaction, error) {
	l.mu.Lock()
	userMu, ok := l.users[op.UserID]
	if !ok {
		userMu = &sync.Mutex{}
		l.users[op.UserID] = userMu
	}
	balance, exists := l.balances[op.UserID]
	l.mu.Unlock()
	if !exists {
		return nil, ledger.ErrUserNotFound
	}

	userMu.Lock()
	defer userMu.Unlock()

	newBalance := balance.Add(op.Amount)
	tx := &fakeTx{}
	if op.Within != nil {
		if err := op.Within(ctx, tx); err != nil {
			l.repo.rollback(tx)
			return nil, err
		}
	}
	l.repo.commit(tx)

	l.mu.Lock()
	l.balances[op.UserID] = newBalance
	l.mu.Unlock()

	return &model.Transaction{
		UserID:        op.UserID,
		Type:          op.Type,
		Amount:        op.Amount,
		BalanceBefore: balance,
		BalanceAfter:  newBalance,
		Status:        model.TransactionCompleted,
	}, nil
}

type staticUsers struct{}

func (staticUsers) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return &model.User{ID: id}, nil
}

func TestConcurrentRedeemsByDifferentUsersRespectGlobalCap(t *testing.T) {
	repo := newLockingRepo(&model.Promocode{
		Code:             "scarce",
		Type:             model.PromocodeFixedAmount,
		Value:            dec("5.00"),
		MaxUsages:        intPtr(1),
		MaxUsagesPerUser: 1,
		IsActive:         true,
	})
	ledgerFake := newRowLockLedger(repo)
	ledgerFake.balances[1] = decimal.Zero
	ledgerFake.balances[2] = decimal.Zero

	svc := NewService(repo, ledgerFake, staticUsers{})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, userID := range []int64{1, 2} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), "SCARCE", id, nil)
			errs <- err
		}(userID)
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrUsageLimitReached)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one redemption must lose the race")
	assert.Equal(t, 1, len(repo.committed))
	credited := ledgerFake.balances[1].Add(ledgerFake.balances[2])
	assert.True(t, credited.Equal(dec("5.00")), "got %s", credited)
}

func TestRedeemUsageInsertFailureLeavesBalance(t *testing.T) {
	repo := newFakeRepo()
	repo.add(&model.Promocode{Code: "ATOMIC", Type: model.PromocodeFixedAmount, Value: dec("5.00"), MaxUsagesPerUser: 1, IsActive: true})
	repo.insertFail = errors.New("insert failed")

	svc, ledgerFake := newTestService(repo)
	ledgerFake.balances[1] = decimal.Zero

	_, err := svc.Redeem(context.Background(), "ATOMIC", 1, nil)
	require.Error(t, err)
	assert.True(t, ledgerFake.balances[1].IsZero())
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
